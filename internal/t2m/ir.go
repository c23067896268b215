package t2m

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage partitions the twelve operations by their effect on the store.
type Stage string

const (
	StageENC Stage = "ENC"
	StageSTO Stage = "STO"
	StageRET Stage = "RET"
)

// Op names one of the twelve memory operations.
type Op string

const (
	OpEncode    Op = "encode"
	OpRetrieve  Op = "retrieve"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpLabel     Op = "label"
	OpPromote   Op = "promote"
	OpDemote    Op = "demote"
	OpMerge     Op = "merge"
	OpSplit     Op = "split"
	OpLock      Op = "lock"
	OpExpire    Op = "expire"
	OpSummarize Op = "summarize"
)

// AllOps is the twelve-op allow-list used by BenchmarkBuilder to reject
// samples whose schema_list names an operation outside it.
var AllOps = []Op{
	OpEncode, OpRetrieve, OpUpdate, OpDelete, OpLabel, OpPromote, OpDemote,
	OpMerge, OpSplit, OpLock, OpExpire, OpSummarize,
}

// StageForOp returns the stage an operation is bound to (§3 "Stage↔op
// binding"). Encode requires ENC; Retrieve and Summarize require RET; the
// remaining nine require STO.
func StageForOp(op Op) (Stage, error) {
	switch op {
	case OpEncode:
		return StageENC, nil
	case OpRetrieve, OpSummarize:
		return StageRET, nil
	case OpUpdate, OpDelete, OpLabel, OpPromote, OpDemote, OpMerge, OpSplit, OpLock, OpExpire:
		return StageSTO, nil
	default:
		return "", fmt.Errorf("t2m: unknown operation %q", op)
	}
}

// IsKnownOp reports whether op is one of the twelve allowed operations.
func IsKnownOp(op Op) bool {
	for _, o := range AllOps {
		if o == op {
			return true
		}
	}
	return false
}

// Meta carries actor/language/trace-id/timestamp/dry_run/confirmation flags
// common to every IR.
type Meta struct {
	Actor         string     `json:"actor,omitempty"`
	Language      string     `json:"language,omitempty"`
	TraceID       string     `json:"trace_id,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	DryRun        bool       `json:"dry_run,omitempty"`
	Confirmation  bool       `json:"confirmation,omitempty"`
}

// RelativeDirection is the "last" | "next" half of a relative time range.
type RelativeDirection string

const (
	RelativeLast RelativeDirection = "last"
	RelativeNext RelativeDirection = "next"
)

// TimeUnit enumerates the units a relative time range may be expressed in.
type TimeUnit string

const (
	UnitMinutes TimeUnit = "minutes"
	UnitHours   TimeUnit = "hours"
	UnitDays    TimeUnit = "days"
	UnitWeeks   TimeUnit = "weeks"
	UnitMonths  TimeUnit = "months"
	UnitYears   TimeUnit = "years"
)

// RelativeRange is the "last|next N unit" form of a time_range.
type RelativeRange struct {
	Direction RelativeDirection `json:"direction"`
	Amount    int               `json:"amount"`
	Unit      TimeUnit          `json:"unit"`
}

// TimeRange is either an absolute start/end window or a relative one.
type TimeRange struct {
	Start    *time.Time     `json:"start,omitempty"`
	End      *time.Time     `json:"end,omitempty"`
	Relative *RelativeRange `json:"relative,omitempty"`
}

// FilterSpec is the predicate half of a TargetSpec.
type FilterSpec struct {
	HasTags      []string   `json:"has_tags,omitempty"`
	NotTags      []string   `json:"not_tags,omitempty"`
	Type         string     `json:"type,omitempty"`
	TimeRange    *TimeRange `json:"time_range,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	Location     string     `json:"location,omitempty"`
	Topic        string     `json:"topic,omitempty"`
	WeightGTE    *float64   `json:"weight_gte,omitempty"`
	WeightLTE    *float64   `json:"weight_lte,omitempty"`
	ExpireBefore *time.Time `json:"expire_before,omitempty"`
	ExpireAfter  *time.Time `json:"expire_after,omitempty"`
	Limit        *int       `json:"limit,omitempty"`
}

// SearchIntent is either a free-text query or a raw vector.
type SearchIntent struct {
	Query  string    `json:"query,omitempty"`
	Vector []float64 `json:"vector,omitempty"`
}

// SearchOverrides lets a caller override the default top-k.
type SearchOverrides struct {
	K *int `json:"k,omitempty"`
}

// SearchSpec is the semantic-search half of a TargetSpec.
type SearchSpec struct {
	Intent    SearchIntent     `json:"intent"`
	Overrides *SearchOverrides `json:"overrides,omitempty"`
	Limit     *int             `json:"limit,omitempty"`
}

// TargetSpec selects which rows an operation applies to: by ids, by filter
// predicates, by semantic search, or all rows. At least one of IDs, Filter,
// Search, or All must be set.
type TargetSpec struct {
	IDs    []string    `json:"ids,omitempty"`
	Filter *FilterSpec `json:"filter,omitempty"`
	Search *SearchSpec `json:"search,omitempty"`
	All    bool        `json:"all,omitempty"`
}

// Empty reports whether no selector at all was supplied.
func (t *TargetSpec) Empty() bool {
	if t == nil {
		return true
	}
	return len(t.IDs) == 0 && t.Filter == nil && t.Search == nil && !t.All
}

// --- per-op argument records (the "typed args record" of §9's tagged-union design note) ---

// Payload is the Encode union of {text, url, structured}; exactly one must
// be set.
type Payload struct {
	Text       string                 `json:"text,omitempty"`
	URL        string                 `json:"url,omitempty"`
	Structured map[string]interface{} `json:"structured,omitempty"`
}

// EncodeArgs are the arguments to an Encode IR.
type EncodeArgs struct {
	Payload       Payload  `json:"payload"`
	Type          Category `json:"type,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Facets        Facets   `json:"facets,omitempty"`
	Subject       string   `json:"subject,omitempty"`
	Location      string   `json:"location,omitempty"`
	Topic         string   `json:"topic,omitempty"`
	Source        string   `json:"source,omitempty"`
	SkipEmbedding bool     `json:"skip_embedding,omitempty"`

	ExpireAt     *time.Time   `json:"expire_at,omitempty"`
	ExpireAction ExpireAction `json:"expire_action,omitempty"`
	ExpireReason string       `json:"expire_reason,omitempty"`

	ReadLevel      string   `json:"read_level,omitempty"`
	WriteLevel     string   `json:"write_level,omitempty"`
	ReadWhitelist  []string `json:"read_whitelist,omitempty"`
	ReadBlacklist  []string `json:"read_blacklist,omitempty"`
	WriteWhitelist []string `json:"write_whitelist,omitempty"`
	WriteBlacklist []string `json:"write_blacklist,omitempty"`
}

// TagPolicy controls whether Label's tags list replaces or appends.
type TagPolicy string

const (
	TagReplace TagPolicy = "replace"
	TagAppend  TagPolicy = "append"
)

// LabelArgs are the arguments to a Label IR.
type LabelArgs struct {
	Tags             []string               `json:"tags,omitempty"`
	TagPolicy        TagPolicy              `json:"tag_policy,omitempty"`
	Facets           map[string]interface{} `json:"facets,omitempty"`
	AutoGenerateTags bool                   `json:"auto_generate_tags,omitempty"`
}

// UpdateArgs are the arguments to an Update IR; Fields is the whitelisted
// set of scalar/list fields to write. "embedding" is always rejected.
type UpdateArgs struct {
	Fields map[string]interface{} `json:"fields"`
}

// PromoteDemoteArgs covers both Promote and Demote: either an absolute
// Weight or a WeightDelta (clamped, delta range ±1).
type PromoteDemoteArgs struct {
	Weight      *float64               `json:"weight,omitempty"`
	WeightDelta *float64               `json:"weight_delta,omitempty"`
	Remind      map[string]interface{} `json:"remind,omitempty"`
	Archive     bool                   `json:"archive,omitempty"`
}

// DeleteArgs are the arguments to a Delete IR.
type DeleteArgs struct {
	Soft      bool       `json:"soft"`
	TimeRange *TimeRange `json:"time_range,omitempty"`
	OlderThan string     `json:"older_than,omitempty"`
}

// RetrieveArgs carries no extra fields beyond target/meta today but is kept
// as a typed record so the dispatcher's switch is exhaustive.
type RetrieveArgs struct{}

// SummarizeArgs are the arguments to a Summarize IR.
type SummarizeArgs struct {
	Focus     string `json:"focus,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// MergeArgs are the arguments to a Merge IR.
type MergeArgs struct {
	PrimaryID        string `json:"primary_id,omitempty"`
	SkipReembedding  bool   `json:"skip_reembedding,omitempty"`
	HardDeleteChildren bool `json:"hard_delete_children,omitempty"`
}

// SplitStrategy names one of the three Split strategies.
type SplitStrategy string

const (
	SplitBySentences SplitStrategy = "by_sentences"
	SplitByChunks    SplitStrategy = "by_chunks"
	SplitCustom      SplitStrategy = "custom"
)

// BySentencesParams parametrise the by_sentences strategy.
type BySentencesParams struct {
	Lang         string `json:"lang,omitempty"`
	MaxSentences int    `json:"max_sentences,omitempty"`
}

// ByChunksParams parametrise the by_chunks strategy; exactly one of
// ChunkSize or NumChunks should be set.
type ByChunksParams struct {
	ChunkSize int `json:"chunk_size,omitempty"`
	NumChunks int `json:"num_chunks,omitempty"`
}

// CustomSplitParams parametrise the custom (LLM-assisted) strategy.
type CustomSplitParams struct {
	Instruction string `json:"instruction,omitempty"`
	MaxSplits   int    `json:"max_splits,omitempty"`
	BypassLLM   bool   `json:"bypass_llm,omitempty"`
	TimeoutSec  int    `json:"timeout,omitempty"`
}

// SplitParams is the strategy-keyed params bag carried by SplitArgs.
type SplitParams struct {
	BySentences *BySentencesParams `json:"by_sentences,omitempty"`
	ByChunks    *ByChunksParams    `json:"by_chunks,omitempty"`
	Custom      *CustomSplitParams `json:"custom,omitempty"`
}

// SplitArgs are the arguments to a Split IR.
type SplitArgs struct {
	Strategy    SplitStrategy `json:"strategy"`
	Params      SplitParams   `json:"params"`
	InheritAll  *bool         `json:"inherit_all,omitempty"`
}

// LockArgs are the arguments to a Lock IR.
type LockArgs struct {
	Mode   LockMode `json:"mode"`
	Reason string   `json:"reason,omitempty"`
	Policy string   `json:"policy,omitempty"`
}

// ExpireArgs are the arguments to an Expire IR.
type ExpireArgs struct {
	TTL          string       `json:"ttl,omitempty"`
	Until        *time.Time   `json:"until,omitempty"`
	OnExpire     ExpireAction `json:"on_expire,omitempty"`
	ExpireReason string       `json:"expire_reason,omitempty"`
}

// IR is the tagged instruction record: stage, op, optional target, the
// op-specific typed args, and optional meta. Args holds exactly one of the
// typed *Args structs above, chosen by Op at unmarshal time.
type IR struct {
	Stage  Stage       `json:"stage"`
	Op     Op          `json:"op"`
	Target *TargetSpec `json:"target,omitempty"`
	Args   interface{} `json:"args,omitempty"`
	Meta   *Meta       `json:"meta,omitempty"`
}

// irWire is the JSON-level shape of an IR, used to defer Args decoding
// until Op is known.
type irWire struct {
	Stage  Stage           `json:"stage"`
	Op     Op              `json:"op"`
	Target *TargetSpec     `json:"target,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Meta   *Meta           `json:"meta,omitempty"`
}

// UnmarshalJSON decodes an IR, routing args into the typed struct that
// matches Op so downstream code can type-switch on ir.Args instead of
// re-parsing a map[string]interface{}.
func (ir *IR) UnmarshalJSON(data []byte) error {
	var wire irWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("t2m: decode IR: %w", err)
	}

	ir.Stage = wire.Stage
	ir.Op = wire.Op
	ir.Target = wire.Target
	ir.Meta = wire.Meta

	if len(wire.Args) == 0 {
		return nil
	}

	args, err := newArgsFor(wire.Op)
	if err != nil {
		return err
	}
	if args == nil {
		ir.Args = nil
		return nil
	}
	if err := json.Unmarshal(wire.Args, args); err != nil {
		return fmt.Errorf("t2m: decode args for op %q: %w", wire.Op, err)
	}
	ir.Args = args
	return nil
}

// MarshalJSON encodes an IR back to its wire shape.
func (ir IR) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if ir.Args != nil {
		b, err := json.Marshal(ir.Args)
		if err != nil {
			return nil, fmt.Errorf("t2m: encode args: %w", err)
		}
		raw = b
	}
	return json.Marshal(irWire{
		Stage:  ir.Stage,
		Op:     ir.Op,
		Target: ir.Target,
		Args:   raw,
		Meta:   ir.Meta,
	})
}

// newArgsFor returns a freshly allocated, pointer-typed Args struct matching
// op, or nil if the op carries no args (Retrieve: bare target is enough).
func newArgsFor(op Op) (interface{}, error) {
	switch op {
	case OpEncode:
		return &EncodeArgs{}, nil
	case OpLabel:
		return &LabelArgs{}, nil
	case OpUpdate:
		return &UpdateArgs{}, nil
	case OpPromote, OpDemote:
		return &PromoteDemoteArgs{}, nil
	case OpDelete:
		return &DeleteArgs{}, nil
	case OpRetrieve:
		return &RetrieveArgs{}, nil
	case OpSummarize:
		return &SummarizeArgs{}, nil
	case OpMerge:
		return &MergeArgs{}, nil
	case OpSplit:
		return &SplitArgs{}, nil
	case OpLock:
		return &LockArgs{}, nil
	case OpExpire:
		return &ExpireArgs{}, nil
	default:
		return nil, fmt.Errorf("t2m: unknown operation %q", op)
	}
}
