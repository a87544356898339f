package cdm

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
)

// Pool keeps one connection pool per CDM connection string for the life of
// the process. Its Open method is the default Opener.
type Pool struct {
	mu     sync.Mutex
	dbs    map[string]database.DB
	config database.PoolConfig
	logger ectologger.Logger
}

func NewPool(config database.PoolConfig, logger ectologger.Logger) *Pool {
	return &Pool{
		dbs:    make(map[string]database.DB),
		config: config,
		logger: logger,
	}
}

// Open returns a new transaction on the pool for cfg, connecting on first
// use.
func (p *Pool) Open(ctx context.Context, cfg Config) (Session, error) {
	db, err := p.get(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	tx, err := db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (p *Pool) get(ctx context.Context, dsn string) (database.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.dbs[dsn]; ok {
		return db, nil
	}
	db, err := database.Connect(ctx, dsn, p.config, p.logger)
	if err != nil {
		return nil, err
	}
	p.dbs[dsn] = db
	return db, nil
}

// Close closes every pool opened so far.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for dsn, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.dbs, dsn)
	}
	return firstErr
}
