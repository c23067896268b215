package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/text2mem/benchctl/internal/t2m"
)

// delete implements Delete/STO: soft delete (state -> deleted, tombstoned)
// or hard delete (row purged), further narrowed by time_range/older_than
// when present (§4.5).
func (e *Engine) delete(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.DeleteArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: delete requires DeleteArgs")
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
		if !withinDeleteWindow(m, args, e.now()) {
			continue
		}

		if args.Soft {
			if err := e.Store.SoftDelete(ctx, id); err != nil {
				return nil, fmt.Errorf("engine: soft delete %d: %w", id, err)
			}
			if err := e.Store.UpdateState(ctx, id, t2m.StateDeleted); err != nil {
				return nil, fmt.Errorf("engine: delete state %d: %w", id, err)
			}
		} else {
			if err := e.Store.HardDelete(ctx, id); err != nil {
				return nil, fmt.Errorf("engine: hard delete %d: %w", id, err)
			}
		}
		affected++
	}

	return map[string]interface{}{"affected_rows": affected}, nil
}

func withinDeleteWindow(m *t2m.MemoryRecord, args *t2m.DeleteArgs, now time.Time) bool {
	if args.TimeRange != nil {
		if args.TimeRange.Start != nil && m.CreatedAt.Before(*args.TimeRange.Start) {
			return false
		}
		if args.TimeRange.End != nil && m.CreatedAt.After(*args.TimeRange.End) {
			return false
		}
	}
	if args.OlderThan != "" {
		if d, err := parseDuration(args.OlderThan); err == nil && now.Sub(m.CreatedAt) < d {
			return false
		}
	}
	return true
}

// parseDuration extends time.ParseDuration with T2M's day/week suffixes
// ("30d", "2w"), which Go's stdlib doesn't recognize.
func parseDuration(s string) (time.Duration, error) {
	if n := len(s); n > 1 {
		switch s[n-1] {
		case 'd':
			amount, err := time.ParseDuration(s[:n-1] + "h")
			return amount * 24, err
		case 'w':
			amount, err := time.ParseDuration(s[:n-1] + "h")
			return amount * 24 * 7, err
		}
	}
	return time.ParseDuration(s)
}
