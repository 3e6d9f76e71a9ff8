package action

import (
	"context"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-automation"
)

type ownerConfig struct {
	OwnerID    string   `json:"owner_id"`
	Pool       []string `json:"pool"`
	OwnerField string   `json:"owner_field"`
}

func (c ownerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.OwnerID,
			validation.When(len(c.Pool) == 0, validation.Required.Error("owner_id or pool is required")),
			validation.When(len(c.Pool) > 0, validation.Empty.Error("owner_id and pool are exclusive")),
		),
		validation.Field(&c.Pool, validation.Each(validation.Required)),
	)
}

// OwnerExecutor handles ASSIGN_OWNER. With a pool it rotates through the
// members per rule action config.
type OwnerExecutor struct {
	owners OwnerAssigner

	mu      sync.Mutex
	cursors map[string]int
}

func NewOwnerExecutor(o OwnerAssigner) *OwnerExecutor {
	return &OwnerExecutor{owners: o, cursors: make(map[string]int)}
}

func (e *OwnerExecutor) Kind() automation.ActionKind { return automation.ActionAssignOwner }

func (e *OwnerExecutor) Execute(ctx context.Context, raw map[string]any, actx automation.Context) (Result, error) {
	var cfg ownerConfig
	if err := decodeConfig(e.Kind(), raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.OwnerField == "" {
		cfg.OwnerField = "owner_id"
	}

	owner := cfg.OwnerID
	key, idx := "", 0
	if len(cfg.Pool) > 0 {
		key = poolKey(actx.OwnerID, cfg.Pool)
		idx = e.peek(key, len(cfg.Pool))
		owner = cfg.Pool[idx]
	}
	previous, _ := entityString(actx, cfg.OwnerField)

	if err := e.owners.AssignOwner(ctx, actx.EntityType, actx.EntityID, owner); err != nil {
		return nil, err
	}
	if key != "" {
		e.advance(key, idx, len(cfg.Pool))
	}
	return Result{
		"owner_id":          owner,
		"previous_owner_id": previous,
	}, nil
}

// maxPoolCursors bounds the rotation state kept per executor.
const maxPoolCursors = 4096

func poolKey(tenant string, pool []string) string {
	return tenant + "|" + strings.Join(pool, "\x1f")
}

func (e *OwnerExecutor) peek(key string, size int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursors[key] % size
}

// advance moves the cursor past idx unless a concurrent assignment
// already moved it.
func (e *OwnerExecutor) advance(key string, idx, size int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.cursors[key]
	if !ok && len(e.cursors) >= maxPoolCursors {
		clear(e.cursors)
	}
	if cur%size == idx {
		e.cursors[key] = (idx + 1) % size
	}
}
