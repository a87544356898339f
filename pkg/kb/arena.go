package kb

import (
	"github.com/Ramsey-B/fern/pkg/models"
)

// node is what a pass needs to know about an entity written earlier in the
// same batch.
type node struct {
	ID         string
	EntityType string
	Scope      models.Scope
	TenantID   string
}

// arenaKey scopes a logical key to its tenant, matching how node ids are
// derived.
type arenaKey struct {
	tenant string
	key    string
}

// arena holds the primary entities of one batch keyed by tenant and logical
// key. A key that is absent was not produced by this batch for that tenant.
// Stubs are tracked apart so they never satisfy a same-batch relation.
type arena struct {
	primary map[arenaKey]node
	stubs   map[arenaKey]string
}

func newArena() *arena {
	return &arena{
		primary: make(map[arenaKey]node),
		stubs:   make(map[arenaKey]string),
	}
}

func (a *arena) put(tenant, key string, n node) {
	a.primary[arenaKey{tenant, key}] = n
}

func (a *arena) get(tenant, key string) (node, bool) {
	n, ok := a.primary[arenaKey{tenant, key}]
	return n, ok
}

func (a *arena) stub(tenant, key string) (string, bool) {
	id, ok := a.stubs[arenaKey{tenant, key}]
	return id, ok
}

func (a *arena) putStub(tenant, key, id string) {
	a.stubs[arenaKey{tenant, key}] = id
}
