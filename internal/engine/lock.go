package engine

import (
	"context"
	"fmt"

	"github.com/text2mem/benchctl/internal/t2m"
)

// lock implements Lock/STO: moves rows into the locked state and records
// the read/write permission level the mode implies (§4.5). read_only
// forbids all writes; append_only still allows the re-entry to active
// Update performs when write_perm_level permits it.
func (e *Engine) lock(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.LockArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: lock requires LockArgs")
	}

	resolved, err := e.resolveTarget(ctx, instr.Target)
	if err != nil {
		return nil, err
	}

	affected := 0
	for _, id := range resolved.IDs {
		m, err := e.Store.Get(ctx, id)
		if err != nil {
			continue
		}

		m.LockMode = args.Mode
		m.LockReason = args.Reason
		m.LockPolicy = args.Policy
		m.ReadPermLevel = t2m.PermLockedReadOnly
		switch args.Mode {
		case t2m.LockReadOnly:
			m.WritePermLevel = t2m.PermLockedNoWrite
		case t2m.LockAppendOnly:
			m.WritePermLevel = t2m.PermLockedAppend
		}
		m.State = t2m.StateLocked

		if err := e.Store.Update(ctx, m); err != nil {
			return nil, fmt.Errorf("engine: lock update %d: %w", id, err)
		}
		if err := e.Store.UpdateState(ctx, id, t2m.StateLocked); err != nil {
			return nil, fmt.Errorf("engine: lock state %d: %w", id, err)
		}
		affected++
	}

	return map[string]interface{}{"affected_rows": affected}, nil
}
