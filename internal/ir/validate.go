// Package ir validates t2m.IR records against the structural and semantic
// invariants named in spec §3/§4.5/§7: stage↔op binding, target presence,
// the all=true safety invariant, and the embedding-write refusal.
package ir

import (
	"fmt"

	"github.com/text2mem/benchctl/internal/t2m"
)

// ValidationError reports a single field-path/message failure. Multiple
// validation errors are aggregated into a *Errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors aggregates one or more ValidationError values.
type Errors struct {
	Errs []*ValidationError
}

func (e *Errors) Error() string {
	if len(e.Errs) == 1 {
		return e.Errs[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e.Errs))
	for _, err := range e.Errs {
		msg += " [" + err.Error() + "]"
	}
	return msg
}

func (e *Errors) add(field, message string) {
	e.Errs = append(e.Errs, &ValidationError{Field: field, Message: message})
}

func (e *Errors) ok() bool { return len(e.Errs) == 0 }

// opsRequiringTarget is every op except Encode -- Encode creates a new row
// and never selects existing ones.
var opsRequiringTarget = map[t2m.Op]bool{
	t2m.OpRetrieve:  true,
	t2m.OpUpdate:    true,
	t2m.OpDelete:    true,
	t2m.OpLabel:     true,
	t2m.OpPromote:   true,
	t2m.OpDemote:    true,
	t2m.OpMerge:     true,
	t2m.OpSplit:     true,
	t2m.OpLock:      true,
	t2m.OpExpire:    true,
	t2m.OpSummarize: true,
}

// Validate checks a single IR record. It returns nil when the record is
// structurally and semantically sound, or a *Errors aggregating every
// violation found (so a caller can report all of them at once).
func Validate(r *t2m.IR) error {
	errs := &Errors{}

	if r == nil {
		errs.add("ir", "nil IR")
		return errs
	}

	if !t2m.IsKnownOp(r.Op) {
		errs.add("op", fmt.Sprintf("unknown operation %q", r.Op))
		return errs
	}

	wantStage, err := t2m.StageForOp(r.Op)
	if err != nil {
		errs.add("op", err.Error())
	} else if r.Stage != wantStage {
		errs.add("stage", fmt.Sprintf("op %q requires stage %q, got %q", r.Op, wantStage, r.Stage))
	}

	if opsRequiringTarget[r.Op] && r.Target.Empty() {
		errs.add("target", fmt.Sprintf("op %q requires at least one of ids, filter, search, or all=true", r.Op))
	}

	validateSafetyInvariant(r, errs)
	validateArgsShape(r, errs)

	if errs.ok() {
		return nil
	}
	return errs
}

// validateSafetyInvariant enforces: "all=true combined with a write stage
// (STO) or with a RET scan must carry meta.confirmation=true or
// meta.dry_run=true; else validation fails" (§3).
func validateSafetyInvariant(r *t2m.IR, errs *Errors) {
	if r.Target == nil || !r.Target.All {
		return
	}
	if r.Stage != t2m.StageSTO && r.Stage != t2m.StageRET {
		return
	}
	confirmed := r.Meta != nil && (r.Meta.Confirmation || r.Meta.DryRun)
	if !confirmed {
		errs.add("target.all", "all=true on a write/scan stage requires meta.confirmation=true or meta.dry_run=true")
	}
}

// validateArgsShape checks op-specific semantic invariants the typed
// decode alone cannot: Encode payload exclusivity, Update's embedding
// refusal, Promote/Demote's weight or weight_delta (or archive on Demote), Split's
// strategy-specific params presence.
func validateArgsShape(r *t2m.IR, errs *Errors) {
	switch a := r.Args.(type) {
	case *t2m.EncodeArgs:
		n := 0
		if a.Payload.Text != "" {
			n++
		}
		if a.Payload.URL != "" {
			n++
		}
		if a.Payload.Structured != nil {
			n++
		}
		if n != 1 {
			errs.add("args.payload", "exactly one of text, url, or structured must be set")
		}
	case *t2m.UpdateArgs:
		if _, forbidden := a.Fields["embedding"]; forbidden {
			errs.add("args.fields.embedding", "writing embedding through Update is forbidden")
		}
		if len(a.Fields) == 0 {
			errs.add("args.fields", "update requires at least one field")
		}
	case *t2m.PromoteDemoteArgs:
		if a.Weight == nil && a.WeightDelta == nil && !(r.Op == t2m.OpDemote && a.Archive) {
			errs.add("args", "promote/demote requires weight or weight_delta")
		}
		if a.WeightDelta != nil && (*a.WeightDelta < -1 || *a.WeightDelta > 1) {
			errs.add("args.weight_delta", "weight_delta must be within ±1")
		}
	case *t2m.SplitArgs:
		switch a.Strategy {
		case t2m.SplitBySentences:
			if a.Params.BySentences == nil {
				errs.add("args.params.by_sentences", "by_sentences strategy requires params.by_sentences")
			}
		case t2m.SplitByChunks:
			if a.Params.ByChunks == nil {
				errs.add("args.params.by_chunks", "by_chunks strategy requires params.by_chunks")
			} else if a.Params.ByChunks.ChunkSize == 0 && a.Params.ByChunks.NumChunks == 0 {
				errs.add("args.params.by_chunks", "exactly one of chunk_size or num_chunks must be set")
			}
		case t2m.SplitCustom:
			if a.Params.Custom == nil {
				errs.add("args.params.custom", "custom strategy requires params.custom")
			}
		default:
			errs.add("args.strategy", fmt.Sprintf("unknown split strategy %q", a.Strategy))
		}
	case *t2m.LockArgs:
		if a.Mode != t2m.LockReadOnly && a.Mode != t2m.LockAppendOnly {
			errs.add("args.mode", fmt.Sprintf("unknown lock mode %q", a.Mode))
		}
	case *t2m.ExpireArgs:
		if a.TTL == "" && a.Until == nil {
			errs.add("args", "expire requires ttl or until")
		}
	}
	// target.search.limit is intentionally left unvalidated for presence:
	// the source rejects limit=0 but accepts nil for STO-with-search (open
	// question #1, see DESIGN.md).
	if r.Target != nil && r.Target.Search != nil && r.Target.Search.Limit != nil && *r.Target.Search.Limit == 0 {
		errs.add("target.search.limit", "limit=0 is rejected; omit the field instead")
	}
}
