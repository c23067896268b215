package engine

import (
	"context"
	"fmt"

	"github.com/text2mem/benchctl/internal/t2m"
)

// promoteDemote implements Promote and Demote/STO: an absolute weight or a
// clamped weight_delta, Promote's optional remind/auto_frequency/expire_at
// side effects, and Demote's archive-via-large-negative-delta shortcut
// (§4.5).
func (e *Engine) promoteDemote(ctx context.Context, instr *t2m.IR, isPromote bool) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.PromoteDemoteArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: promote/demote requires PromoteDemoteArgs")
	}

	resolved, err := e.resolveTarget(ctx, instr.Target)
	if err != nil {
		return nil, err
	}

	delta := 0.0
	if args.WeightDelta != nil {
		delta = *args.WeightDelta
		if !isPromote && delta > 0 {
			delta = -delta
		}
		if delta < -1 {
			delta = -1
		}
		if delta > 1 {
			delta = 1
		}
	}
	if !isPromote && args.Archive {
		delta = -1
	}

	affected := 0
	for _, id := range resolved.IDs {
		m, err := e.Store.Get(ctx, id)
		if err != nil {
			continue
		}

		if args.Weight != nil {
			m.Weight = *args.Weight
		} else {
			m.Weight += delta
		}
		m.ClampWeight()

		if isPromote {
			applyRemind(m, args.Remind)
		}

		if err := e.Store.Update(ctx, m); err != nil {
			return nil, fmt.Errorf("engine: promote/demote update %d: %w", id, err)
		}
		affected++
	}

	return map[string]interface{}{"affected_rows": affected}, nil
}

// applyRemind applies Promote's optional remind payload: frequency and an
// explicit expire_at for the reminder window.
func applyRemind(m *t2m.MemoryRecord, remind map[string]interface{}) {
	if remind == nil {
		return
	}
	if freq, ok := remind["auto_frequency"].(string); ok {
		m.AutoFrequency = freq
	}
	if at, ok := remind["expire_at"].(string); ok {
		if t, err := parseTime(at); err == nil {
			m.ExpireAt = &t
		}
	}
}
