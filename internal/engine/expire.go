package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/text2mem/benchctl/internal/t2m"
)

// expire implements Expire/STO: sets expire_at (from ttl or an explicit
// until) and expire_action on the target rows. Expire only schedules the
// expiry; it never reaps a row itself (§4.5: "no self-reaping" -- a
// separate sweep, outside this op, transitions state to expired when
// expire_at has passed).
func (e *Engine) expire(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.ExpireArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: expire requires ExpireArgs")
	}

	resolved, err := e.resolveTarget(ctx, instr.Target)
	if err != nil {
		return nil, err
	}

	var at *time.Time
	switch {
	case args.Until != nil:
		at = args.Until
	case args.TTL != "":
		d, err := parseDuration(args.TTL)
		if err != nil {
			return nil, fmt.Errorf("engine: expire ttl: %w", err)
		}
		t := e.now().Add(d)
		at = &t
	}

	affected := 0
	for _, id := range resolved.IDs {
		m, err := e.Store.Get(ctx, id)
		if err != nil {
			continue
		}

		m.ExpireAt = at
		if args.OnExpire != "" {
			m.ExpireAction = args.OnExpire
		}
		if args.ExpireReason != "" {
			m.ExpireReason = args.ExpireReason
		}

		if err := e.Store.Update(ctx, m); err != nil {
			return nil, fmt.Errorf("engine: expire update %d: %w", id, err)
		}
		affected++
	}

	return map[string]interface{}{"affected_rows": affected}, nil
}
