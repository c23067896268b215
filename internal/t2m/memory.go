// Package t2m holds the shared data model for the text-to-memory benchmark
// pipeline: memory records, the IR instruction set, generation samples, and
// the checkpoint record that tracks pipeline progress.
package t2m

import "time"

// Category classifies a MemoryRecord.
type Category string

const (
	CategoryNote       Category = "note"
	CategoryEvent      Category = "event"
	CategoryTask       Category = "task"
	CategoryProfile    Category = "profile"
	CategoryPreference Category = "preference"
	CategoryGeneric    Category = "generic"
)

// ExpireAction names what happens to a record when its expiry is reaped.
type ExpireAction string

const (
	ExpireSoftDelete ExpireAction = "soft_delete"
	ExpireHardDelete ExpireAction = "hard_delete"
	ExpireDemote     ExpireAction = "demote"
	ExpireAnonymize  ExpireAction = "anonymize"
)

// LockMode names the two lock modes a record can be placed under.
type LockMode string

const (
	LockReadOnly   LockMode = "read_only"
	LockAppendOnly LockMode = "append_only"
)

// Permission levels recorded on read_perm_level / write_perm_level.
const (
	PermOpen           = "open"
	PermLockedReadOnly = "locked_read_only"
	PermLockedNoWrite  = "locked_no_write"
	PermLockedAppend   = "locked_append_only"
)

// LifecycleState is the coarse state-machine position of a record (§4.5).
type LifecycleState string

const (
	StateFresh   LifecycleState = "fresh"
	StateActive  LifecycleState = "active"
	StateLocked  LifecycleState = "locked"
	StateExpired LifecycleState = "expired"
	StateDeleted LifecycleState = "deleted"
	StatePurged  LifecycleState = "purged"
)

// Facets hold the semantic facet columns mirrored from tags/free fields.
type Facets struct {
	Subject string `json:"subject,omitempty"`
	Time    string `json:"time,omitempty"`
	Location string `json:"location,omitempty"`
	Topic   string `json:"topic,omitempty"`
}

// Embedding is the (vector, dimension, model, provider) quadruple carried by
// a MemoryRecord. An empty Vector means no embedding has been generated.
type Embedding struct {
	Vector   []float64 `json:"vector,omitempty"`
	Dim      int       `json:"dimension,omitempty"`
	Model    string    `json:"model,omitempty"`
	Provider string    `json:"provider,omitempty"`
}

// Permissions carries the read/write level plus whitelist/blacklist
// principal sequences for a record.
type Permissions struct {
	ReadLevel       string   `json:"read_level,omitempty"`
	WriteLevel      string   `json:"write_level,omitempty"`
	ReadWhitelist   []string `json:"read_whitelist,omitempty"`
	ReadBlacklist   []string `json:"read_blacklist,omitempty"`
	WriteWhitelist  []string `json:"write_whitelist,omitempty"`
	WriteBlacklist  []string `json:"write_blacklist,omitempty"`
}

// MemoryRecord is one row in the MemoryStore (§3).
type MemoryRecord struct {
	ID   int64    `json:"id"`
	Text string   `json:"text"`

	Type Category `json:"type"`
	Tags []string `json:"tags"`

	Facets Facets `json:"facets"`

	Weight float64 `json:"weight"`

	Embedding Embedding `json:"embedding"`

	Source          string     `json:"source,omitempty"`
	AutoFrequency   string     `json:"auto_frequency,omitempty"`
	NextAutoUpdateAt *time.Time `json:"next_auto_update_at,omitempty"`

	ExpireAt     *time.Time   `json:"expire_at,omitempty"`
	ExpireAction ExpireAction `json:"expire_action,omitempty"`
	ExpireReason string       `json:"expire_reason,omitempty"`

	LockMode    LockMode   `json:"lock_mode,omitempty"`
	LockReason  string     `json:"lock_reason,omitempty"`
	LockPolicy  string     `json:"lock_policy,omitempty"`
	LockExpires *time.Time `json:"lock_expires,omitempty"`

	LineageParents  []int64 `json:"lineage_parents,omitempty"`
	LineageChildren []int64 `json:"lineage_children,omitempty"`

	Permissions Permissions `json:"permissions"`

	State LifecycleState `json:"state"`

	ReadPermLevel  string `json:"read_perm_level"`
	WritePermLevel string `json:"write_perm_level"`

	Deleted bool `json:"deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClampWeight clamps Weight into [0,1], per the engine's write-time
// invariant (§3: "weight ∈ [0,1] after any operation; engine clamps on
// write").
func (m *MemoryRecord) ClampWeight() {
	if m.Weight < 0 {
		m.Weight = 0
	}
	if m.Weight > 1 {
		m.Weight = 1
	}
}

// HasTag reports whether the record carries the given tag.
func (m *MemoryRecord) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTagUnique appends tag to Tags only if not already present, preserving
// the "duplicate-preserving in storage but treated as a set" invariant at
// the point of mutation rather than relying on storage-level dedup.
func (m *MemoryRecord) AddTagUnique(tag string) {
	if !m.HasTag(tag) {
		m.Tags = append(m.Tags, tag)
	}
}
