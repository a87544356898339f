package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	redisValueField   = "value"
	redisVersionField = "version"
)

// RedisStore keeps each key as a hash {value, version}. Conditional writes run
// inside WATCH/MULTI and versions come from one shared counter.
type RedisStore struct {
	rdb        redis.UniversalClient
	namespace  string
	counterKey string
	logger     ectologger.Logger
}

func NewRedisStore(rdb redis.UniversalClient, namespace string, logger ectologger.Logger) *RedisStore {
	if namespace == "" {
		namespace = "fern:kv"
	}
	return &RedisStore{
		rdb:        rdb,
		namespace:  namespace,
		counterKey: namespace + ":__version",
		logger:     logger,
	}
}

func (s *RedisStore) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", s.namespace, key)
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, Version, error) {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.RedisStore.Get", attribute.String("key", key))
	defer span.End()

	fields, err := s.rdb.HMGet(ctx, s.redisKey(key), redisValueField, redisVersionField).Result()
	if err != nil {
		tracing.RecordError(span, err, "failed to read key")
		return nil, NoVersion, fernerrors.NewStorageError("redis", "get", err)
	}
	value, _ := fields[0].(string)
	version, _ := fields[1].(string)
	if version == "" {
		return nil, NoVersion, fmt.Errorf("checkpoint %s: %w", key, ErrNotFound)
	}
	return []byte(value), Version(version), nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, expected Version) (Version, error) {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.RedisStore.Put", attribute.String("key", key))
	defer span.End()

	rkey := s.redisKey(key)
	var next Version
	var casErr error

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, rkey, redisVersionField).Result()
		if errors.Is(err, redis.Nil) {
			current = ""
		} else if err != nil {
			return err
		}

		if Version(current) != expected {
			casErr = fernerrors.NewCASMismatchError(key, string(expected), current)
			return nil
		}

		n, err := tx.Incr(ctx, s.counterKey).Result()
		if err != nil {
			return err
		}
		next = Version(strconv.FormatInt(n, 10))

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, rkey, redisValueField, string(value), redisVersionField, string(next))
			return nil
		})
		return err
	}, rkey)

	if errors.Is(err, redis.TxFailedErr) {
		// another writer touched the key between WATCH and EXEC
		_, current, getErr := s.Get(ctx, key)
		if getErr != nil && !errors.Is(getErr, ErrNotFound) {
			return NoVersion, getErr
		}
		return NoVersion, fernerrors.NewCASMismatchError(key, string(expected), string(current))
	}
	if err != nil {
		tracing.RecordError(span, err, "failed to write key")
		s.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("failed to write checkpoint key")
		return NoVersion, fernerrors.NewStorageError("redis", "put", err)
	}
	if casErr != nil {
		return NoVersion, casErr
	}
	return next, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string, expected Version) error {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.RedisStore.Delete", attribute.String("key", key))
	defer span.End()

	rkey := s.redisKey(key)
	if expected == NoVersion {
		if err := s.rdb.Del(ctx, rkey).Err(); err != nil {
			return fernerrors.NewStorageError("redis", "delete", err)
		}
		return nil
	}

	var casErr error
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, rkey, redisVersionField).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if Version(current) != expected {
			casErr = fernerrors.NewCASMismatchError(key, string(expected), current)
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rkey)
			return nil
		})
		return err
	}, rkey)

	if errors.Is(err, redis.TxFailedErr) {
		return fernerrors.NewCASMismatchError(key, string(expected), "")
	}
	if err != nil {
		return fernerrors.NewStorageError("redis", "delete", err)
	}
	return casErr
}
