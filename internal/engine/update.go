package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/text2mem/benchctl/internal/t2m"
)

// updatableFields whitelists the scalar/list columns Update may write.
// "embedding" is rejected at validation time (internal/ir) before this
// handler ever runs.
var updatableFields = map[string]bool{
	"text": true, "type": true, "tags": true, "source": true,
	"weight": true, "subject": true, "location": true, "topic": true,
	"read_level": true, "write_level": true,
	"read_whitelist": true, "read_blacklist": true,
	"write_whitelist": true, "write_blacklist": true,
}

// update implements Update/STO: a read-modify-write over the whitelisted
// fields in args.fields, clamping weight and re-entering "active" from
// "locked" when write_perm_level still permits the write (§4.5).
func (e *Engine) update(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.UpdateArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: update requires UpdateArgs")
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

		if m.State == t2m.StateLocked && m.WritePermLevel == t2m.PermLockedNoWrite {
			continue
		}

		for field, raw := range args.Fields {
			if !updatableFields[field] {
				continue
			}
			applyUpdateField(m, field, raw)
		}
		m.ClampWeight()

		if m.State == t2m.StateLocked && m.WritePermLevel == t2m.PermLockedAppend {
			m.State = t2m.StateActive
		}

		if err := e.Store.Update(ctx, m); err != nil {
			return nil, fmt.Errorf("engine: update %d: %w", id, err)
		}
		affected++
	}

	return map[string]interface{}{"affected_rows": affected}, nil
}

func applyUpdateField(m *t2m.MemoryRecord, field string, raw interface{}) {
	switch field {
	case "text":
		if s, ok := raw.(string); ok {
			m.Text = s
		}
	case "type":
		if s, ok := raw.(string); ok {
			m.Type = t2m.Category(s)
		}
	case "source":
		if s, ok := raw.(string); ok {
			m.Source = s
		}
	case "weight":
		if f, ok := toFloat64(raw); ok {
			m.Weight = f
		}
	case "subject":
		if s, ok := raw.(string); ok {
			m.Facets.Subject = s
		}
	case "location":
		if s, ok := raw.(string); ok {
			m.Facets.Location = s
		}
	case "topic":
		if s, ok := raw.(string); ok {
			m.Facets.Topic = s
		}
	case "read_level":
		if s, ok := raw.(string); ok {
			m.Permissions.ReadLevel = s
		}
	case "write_level":
		if s, ok := raw.(string); ok {
			m.Permissions.WriteLevel = s
		}
	case "tags":
		if list, ok := toStringSlice(raw); ok {
			m.Tags = list
		}
	case "read_whitelist":
		if list, ok := toStringSlice(raw); ok {
			m.Permissions.ReadWhitelist = list
		}
	case "read_blacklist":
		if list, ok := toStringSlice(raw); ok {
			m.Permissions.ReadBlacklist = list
		}
	case "write_whitelist":
		if list, ok := toStringSlice(raw); ok {
			m.Permissions.WriteWhitelist = list
		}
	case "write_blacklist":
		if list, ok := toStringSlice(raw); ok {
			m.Permissions.WriteBlacklist = list
		}
	}
}

func toFloat64(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toStringSlice(raw interface{}) ([]string, bool) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
