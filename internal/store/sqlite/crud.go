package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/text2mem/benchctl/internal/store"
	"github.com/text2mem/benchctl/internal/t2m"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var v []string
	if s == "" {
		return v
	}
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func marshalInt64s(v []int64) string {
	if v == nil {
		v = []int64{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalInt64s(s string) []int64 {
	var v []int64
	if s == "" {
		return v
	}
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func marshalFacets(f t2m.Facets) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func unmarshalFacets(s string) t2m.Facets {
	var f t2m.Facets
	if s != "" {
		_ = json.Unmarshal([]byte(s), &f)
	}
	return f
}

func marshalEmbedding(v []float64) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, _ := json.Marshal(v)
	return sql.NullString{String: string(b), Valid: true}
}

func unmarshalEmbedding(s sql.NullString) []float64 {
	if !s.Valid || s.String == "" {
		return nil
	}
	var v []float64
	_ = json.Unmarshal([]byte(s.String), &v)
	return v
}

const memoryColumns = `
	id, text, type, tags, facets, weight,
	embedding, embedding_dim, embedding_model, embedding_provider,
	source, auto_frequency, next_auto_update_at,
	expire_at, expire_action, expire_reason,
	lock_mode, lock_reason, lock_policy, lock_expires,
	lineage_parents, lineage_children,
	read_level, write_level, read_whitelist, read_blacklist, write_whitelist, write_blacklist,
	read_perm_level, write_perm_level,
	state, deleted, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*t2m.MemoryRecord, error) {
	var (
		m                                                      t2m.MemoryRecord
		tags, facets, lineageParents, lineageChildren           string
		readWhitelist, readBlacklist, writeWhitelist, writeBlacklist string
		embedding                                              sql.NullString
		embeddingModel, embeddingProvider                      sql.NullString
		source, autoFrequency                                  sql.NullString
		nextAutoUpdateAt, expireAt, lockExpires                sql.NullString
		expireAction, expireReason                             sql.NullString
		lockMode, lockReason, lockPolicy                       sql.NullString
		createdAt, updatedAt                                    string
		deleted                                                 int
	)

	if err := row.Scan(
		&m.ID, &m.Text, &m.Type, &tags, &facets, &m.Weight,
		&embedding, &m.Embedding.Dim, &embeddingModel, &embeddingProvider,
		&source, &autoFrequency, &nextAutoUpdateAt,
		&expireAt, &expireAction, &expireReason,
		&lockMode, &lockReason, &lockPolicy, &lockExpires,
		&lineageParents, &lineageChildren,
		&m.Permissions.ReadLevel, &m.Permissions.WriteLevel,
		&readWhitelist, &readBlacklist, &writeWhitelist, &writeBlacklist,
		&m.ReadPermLevel, &m.WritePermLevel,
		&m.State, &deleted, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	m.Tags = unmarshalStrings(tags)
	m.Facets = unmarshalFacets(facets)
	m.LineageParents = unmarshalInt64s(lineageParents)
	m.LineageChildren = unmarshalInt64s(lineageChildren)
	m.Permissions.ReadWhitelist = unmarshalStrings(readWhitelist)
	m.Permissions.ReadBlacklist = unmarshalStrings(readBlacklist)
	m.Permissions.WriteWhitelist = unmarshalStrings(writeWhitelist)
	m.Permissions.WriteBlacklist = unmarshalStrings(writeBlacklist)

	m.Embedding.Vector = unmarshalEmbedding(embedding)
	m.Embedding.Model = embeddingModel.String
	m.Embedding.Provider = embeddingProvider.String

	m.Source = source.String
	m.AutoFrequency = autoFrequency.String
	if t, err := parseTimePtr(nextAutoUpdateAt); err == nil {
		m.NextAutoUpdateAt = t
	}
	if t, err := parseTimePtr(expireAt); err == nil {
		m.ExpireAt = t
	}
	m.ExpireAction = t2m.ExpireAction(expireAction.String)
	m.ExpireReason = expireReason.String

	m.LockMode = t2m.LockMode(lockMode.String)
	m.LockReason = lockReason.String
	m.LockPolicy = lockPolicy.String
	if t, err := parseTimePtr(lockExpires); err == nil {
		m.LockExpires = t
	}

	m.Deleted = deleted != 0

	createdAtT, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	m.CreatedAt = createdAtT
	updatedAtT, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parse updated_at: %w", err)
	}
	m.UpdatedAt = updatedAtT

	return &m, nil
}

// Insert creates a new row and returns its assigned id.
func (s *Store) Insert(ctx context.Context, m *t2m.MemoryRecord) (int64, error) {
	if m == nil {
		return 0, store.ErrInvalidInput
	}
	m.ClampWeight()
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.State == "" {
		m.State = t2m.StateFresh
	}
	if m.ReadPermLevel == "" {
		m.ReadPermLevel = t2m.PermOpen
	}
	if m.WritePermLevel == "" {
		m.WritePermLevel = t2m.PermOpen
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory (
			text, type, tags, facets, weight,
			embedding, embedding_dim, embedding_model, embedding_provider,
			source, auto_frequency, next_auto_update_at,
			expire_at, expire_action, expire_reason,
			lock_mode, lock_reason, lock_policy, lock_expires,
			lineage_parents, lineage_children,
			read_level, write_level, read_whitelist, read_blacklist, write_whitelist, write_blacklist,
			read_perm_level, write_perm_level,
			state, deleted, created_at, updated_at
		) VALUES (?,?,?,?,?, ?,?,?,?, ?,?,?, ?,?,?, ?,?,?,?, ?,?, ?,?,?,?,?,?, ?,?, ?,?,?,?)
	`,
		m.Text, string(m.Type), marshalStrings(m.Tags), marshalFacets(m.Facets), m.Weight,
		marshalEmbedding(m.Embedding.Vector), len(m.Embedding.Vector), nullIfEmpty(m.Embedding.Model), nullIfEmpty(m.Embedding.Provider),
		nullIfEmpty(m.Source), nullIfEmpty(m.AutoFrequency), formatTimePtr(m.NextAutoUpdateAt),
		formatTimePtr(m.ExpireAt), nullIfEmpty(string(m.ExpireAction)), nullIfEmpty(m.ExpireReason),
		nullIfEmpty(string(m.LockMode)), nullIfEmpty(m.LockReason), nullIfEmpty(m.LockPolicy), formatTimePtr(m.LockExpires),
		marshalInt64s(m.LineageParents), marshalInt64s(m.LineageChildren),
		valueOr(m.Permissions.ReadLevel, t2m.PermOpen), valueOr(m.Permissions.WriteLevel, t2m.PermOpen),
		marshalStrings(m.Permissions.ReadWhitelist), marshalStrings(m.Permissions.ReadBlacklist),
		marshalStrings(m.Permissions.WriteWhitelist), marshalStrings(m.Permissions.WriteBlacklist),
		m.ReadPermLevel, m.WritePermLevel,
		string(m.State), boolToInt(m.Deleted), formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert: last insert id: %w", err)
	}
	m.ID = id
	return id, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func valueOr(s string, d string) string {
	if s == "" {
		return d
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Get retrieves a memory by id, including soft-deleted rows (callers that
// must exclude deleted rows -- every op except hard-delete, per §3's
// visibility invariant -- filter in the caller / engine layer).
func (s *Store) Get(ctx context.Context, id int64) (*t2m.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+memoryColumns+" FROM memory WHERE id = ?", id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get: %w", err)
	}
	return m, nil
}

// List retrieves memories with pagination.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.PaginatedResult[t2m.MemoryRecord], error) {
	opts.Normalize()

	where := []string{}
	args := []interface{}{}
	if !opts.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if opts.OnlyDeleted {
		where = append(where, "deleted = 1")
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, opts.Type)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countArgs := append([]interface{}{}, args...)
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory "+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: list count: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM memory %s ORDER BY %s %s LIMIT ? OFFSET ?",
		memoryColumns, whereSQL, opts.SortBy, strings.ToUpper(opts.SortOrder))
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	items := []t2m.MemoryRecord{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list scan: %w", err)
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &store.PaginatedResult[t2m.MemoryRecord]{
		Items: items, Total: total, Page: opts.Page, PageSize: opts.Limit,
	}, nil
}

// Update overwrites every column of an existing row (the engine's op
// handlers read-modify-write rather than issue partial SQL UPDATEs, so a
// full rewrite here keeps the store dumb and the semantics in one place).
func (s *Store) Update(ctx context.Context, m *t2m.MemoryRecord) error {
	if m == nil || m.ID == 0 {
		return store.ErrInvalidInput
	}
	m.ClampWeight()
	m.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE memory SET
			text=?, type=?, tags=?, facets=?, weight=?,
			embedding=?, embedding_dim=?, embedding_model=?, embedding_provider=?,
			source=?, auto_frequency=?, next_auto_update_at=?,
			expire_at=?, expire_action=?, expire_reason=?,
			lock_mode=?, lock_reason=?, lock_policy=?, lock_expires=?,
			lineage_parents=?, lineage_children=?,
			read_level=?, write_level=?, read_whitelist=?, read_blacklist=?, write_whitelist=?, write_blacklist=?,
			read_perm_level=?, write_perm_level=?,
			state=?, deleted=?, updated_at=?
		WHERE id=?
	`,
		m.Text, string(m.Type), marshalStrings(m.Tags), marshalFacets(m.Facets), m.Weight,
		marshalEmbedding(m.Embedding.Vector), len(m.Embedding.Vector), nullIfEmpty(m.Embedding.Model), nullIfEmpty(m.Embedding.Provider),
		nullIfEmpty(m.Source), nullIfEmpty(m.AutoFrequency), formatTimePtr(m.NextAutoUpdateAt),
		formatTimePtr(m.ExpireAt), nullIfEmpty(string(m.ExpireAction)), nullIfEmpty(m.ExpireReason),
		nullIfEmpty(string(m.LockMode)), nullIfEmpty(m.LockReason), nullIfEmpty(m.LockPolicy), formatTimePtr(m.LockExpires),
		marshalInt64s(m.LineageParents), marshalInt64s(m.LineageChildren),
		valueOr(m.Permissions.ReadLevel, t2m.PermOpen), valueOr(m.Permissions.WriteLevel, t2m.PermOpen),
		marshalStrings(m.Permissions.ReadWhitelist), marshalStrings(m.Permissions.ReadBlacklist),
		marshalStrings(m.Permissions.WriteWhitelist), marshalStrings(m.Permissions.WriteBlacklist),
		m.ReadPermLevel, m.WritePermLevel,
		string(m.State), boolToInt(m.Deleted), formatTime(m.UpdatedAt),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SoftDelete sets deleted=1, matching the soft-delete half of Delete/Expire.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE memory SET deleted=1, state=?, updated_at=? WHERE id=?",
		string(t2m.StateDeleted), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: soft delete: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// HardDelete permanently removes a row. Per §3, hard-delete is the one
// operation visible to already-deleted rows, so no deleted-flag guard here.
func (s *Store) HardDelete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memory WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("sqlite: hard delete: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// Restore clears the deleted flag.
func (s *Store) Restore(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE memory SET deleted=0, state=?, updated_at=? WHERE id=? AND deleted=1",
		string(t2m.StateActive), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: restore: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// UpdateState sets the lifecycle state column directly; transition
// validity is the engine's responsibility (state machine in §4.5), not
// the store's.
func (s *Store) UpdateState(ctx context.Context, id int64, state t2m.LifecycleState) error {
	res, err := s.db.ExecContext(ctx, "UPDATE memory SET state=?, updated_at=? WHERE id=?",
		string(state), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: update state: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FilterIDs translates a FilterSpec into a SQL WHERE clause and returns the
// matching non-deleted ids (used both as a standalone Retrieve{filter} and
// as the pre-condition set for filter+search and for STO ops on
// target.filter).
func (s *Store) FilterIDs(ctx context.Context, f *t2m.FilterSpec, now time.Time) ([]int64, error) {
	where := []string{"deleted = 0"}
	args := []interface{}{}

	if f != nil {
		for _, tag := range f.HasTags {
			where = append(where, "tags LIKE ?")
			args = append(args, "%\""+tag+"\"%")
		}
		for _, tag := range f.NotTags {
			where = append(where, "tags NOT LIKE ?")
			args = append(args, "%\""+tag+"\"%")
		}
		if f.Type != "" {
			where = append(where, "type = ?")
			args = append(args, f.Type)
		}
		if f.Subject != "" {
			where = append(where, "facets LIKE ?")
			args = append(args, "%\"subject\":\""+f.Subject+"\"%")
		}
		if f.Location != "" {
			where = append(where, "facets LIKE ?")
			args = append(args, "%\"location\":\""+f.Location+"\"%")
		}
		if f.Topic != "" {
			where = append(where, "facets LIKE ?")
			args = append(args, "%\"topic\":\""+f.Topic+"\"%")
		}
		if f.WeightGTE != nil {
			where = append(where, "weight >= ?")
			args = append(args, *f.WeightGTE)
		}
		if f.WeightLTE != nil {
			where = append(where, "weight <= ?")
			args = append(args, *f.WeightLTE)
		}
		if f.ExpireBefore != nil {
			where = append(where, "expire_at IS NOT NULL AND expire_at < ?")
			args = append(args, formatTime(*f.ExpireBefore))
		}
		if f.ExpireAfter != nil {
			where = append(where, "expire_at IS NOT NULL AND expire_at > ?")
			args = append(args, formatTime(*f.ExpireAfter))
		}
		if tr := f.TimeRange; tr != nil {
			start, end, ok := resolveTimeRange(tr, now)
			if ok {
				where = append(where, "created_at >= ? AND created_at <= ?")
				args = append(args, formatTime(start), formatTime(end))
			}
		}
	}

	q := "SELECT id FROM memory WHERE " + strings.Join(where, " AND ") + " ORDER BY id ASC"
	if f != nil && f.Limit != nil && *f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", *f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: filter ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// resolveTimeRange turns an absolute-or-relative TimeRange into concrete
// start/end instants relative to now.
func resolveTimeRange(tr *t2m.TimeRange, now time.Time) (time.Time, time.Time, bool) {
	if tr.Start != nil && tr.End != nil {
		return *tr.Start, *tr.End, true
	}
	if tr.Relative == nil {
		return time.Time{}, time.Time{}, false
	}
	d := unitDuration(tr.Relative.Unit, tr.Relative.Amount)
	if tr.Relative.Direction == t2m.RelativeLast {
		return now.Add(-d), now, true
	}
	return now, now.Add(d), true
}

func unitDuration(unit t2m.TimeUnit, amount int) time.Duration {
	n := time.Duration(amount)
	switch unit {
	case t2m.UnitMinutes:
		return n * time.Minute
	case t2m.UnitHours:
		return n * time.Hour
	case t2m.UnitDays:
		return n * 24 * time.Hour
	case t2m.UnitWeeks:
		return n * 7 * 24 * time.Hour
	case t2m.UnitMonths:
		return n * 30 * 24 * time.Hour
	case t2m.UnitYears:
		return n * 365 * 24 * time.Hour
	default:
		return 0
	}
}
