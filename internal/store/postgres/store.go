// Package postgres is the production MemoryStore backend: the same
// schema shape as the sqlite sandbox backend, plus a pgvector column for
// ANN-indexed similarity search instead of the sqlite backend's in-process
// cosine scan. Grounded on internal/storage/postgres/memory_store.go and
// internal/storage/postgres/search_provider.go.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/text2mem/benchctl/internal/store"
	"github.com/text2mem/benchctl/internal/t2m"
)

// Store implements store.MemoryStore over Postgres + pgvector.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres at dsn and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const columns = `
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

func scan(row interface{ Scan(...interface{}) error }) (*t2m.MemoryRecord, error) {
	var (
		m                                                    t2m.MemoryRecord
		tags, facets, lineageParents, lineageChildren        []byte
		readWL, readBL, writeWL, writeBL                     []byte
		embedding                                            sql.NullString
		model, provider, source, autoFreq                    sql.NullString
		nextAutoUpdateAt, expireAt, lockExpires               sql.NullTime
		expireAction, expireReason, lockMode, lockReason, lockPolicy sql.NullString
		deleted                                              bool
	)

	if err := row.Scan(
		&m.ID, &m.Text, &m.Type, &tags, &facets, &m.Weight,
		&embedding, &m.Embedding.Dim, &model, &provider,
		&source, &autoFreq, &nextAutoUpdateAt,
		&expireAt, &expireAction, &expireReason,
		&lockMode, &lockReason, &lockPolicy, &lockExpires,
		&lineageParents, &lineageChildren,
		&m.Permissions.ReadLevel, &m.Permissions.WriteLevel,
		&readWL, &readBL, &writeWL, &writeBL,
		&m.ReadPermLevel, &m.WritePermLevel,
		&m.State, &deleted, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	_ = json.Unmarshal(tags, &m.Tags)
	_ = json.Unmarshal(facets, &m.Facets)
	_ = json.Unmarshal(lineageParents, &m.LineageParents)
	_ = json.Unmarshal(lineageChildren, &m.LineageChildren)
	_ = json.Unmarshal(readWL, &m.Permissions.ReadWhitelist)
	_ = json.Unmarshal(readBL, &m.Permissions.ReadBlacklist)
	_ = json.Unmarshal(writeWL, &m.Permissions.WriteWhitelist)
	_ = json.Unmarshal(writeBL, &m.Permissions.WriteBlacklist)

	if embedding.Valid {
		_ = json.Unmarshal([]byte(embedding.String), &m.Embedding.Vector)
	}
	m.Embedding.Model = model.String
	m.Embedding.Provider = provider.String
	m.Source = source.String
	m.AutoFrequency = autoFreq.String
	if nextAutoUpdateAt.Valid {
		m.NextAutoUpdateAt = &nextAutoUpdateAt.Time
	}
	if expireAt.Valid {
		m.ExpireAt = &expireAt.Time
	}
	m.ExpireAction = t2m.ExpireAction(expireAction.String)
	m.ExpireReason = expireReason.String
	m.LockMode = t2m.LockMode(lockMode.String)
	m.LockReason = lockReason.String
	m.LockPolicy = lockPolicy.String
	if lockExpires.Valid {
		m.LockExpires = &lockExpires.Time
	}
	m.Deleted = deleted

	return &m, nil
}

// Insert creates a new row, mirroring the embedding into both the JSONB
// `embedding` column (bit-exact, matches the sqlite backend) and the
// pgvector `embedding_vec` column (ANN search).
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

	tags, _ := json.Marshal(orEmptyStrings(m.Tags))
	facets, _ := json.Marshal(m.Facets)
	lineageParents, _ := json.Marshal(orEmptyInt64s(m.LineageParents))
	lineageChildren, _ := json.Marshal(orEmptyInt64s(m.LineageChildren))
	readWL, _ := json.Marshal(orEmptyStrings(m.Permissions.ReadWhitelist))
	readBL, _ := json.Marshal(orEmptyStrings(m.Permissions.ReadBlacklist))
	writeWL, _ := json.Marshal(orEmptyStrings(m.Permissions.WriteWhitelist))
	writeBL, _ := json.Marshal(orEmptyStrings(m.Permissions.WriteBlacklist))

	var embeddingJSON sql.NullString
	var vec *pgvector.Vector
	if len(m.Embedding.Vector) > 0 {
		b, _ := json.Marshal(m.Embedding.Vector)
		embeddingJSON = sql.NullString{String: string(b), Valid: true}
		v32 := make([]float32, len(m.Embedding.Vector))
		for i, f := range m.Embedding.Vector {
			v32[i] = float32(f)
		}
		vv := pgvector.NewVector(v32)
		vec = &vv
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO memory (
			text, type, tags, facets, weight,
			embedding, embedding_vec, embedding_dim, embedding_model, embedding_provider,
			source, auto_frequency, next_auto_update_at,
			expire_at, expire_action, expire_reason,
			lock_mode, lock_reason, lock_policy, lock_expires,
			lineage_parents, lineage_children,
			read_level, write_level, read_whitelist, read_blacklist, write_whitelist, write_blacklist,
			read_perm_level, write_perm_level,
			state, deleted, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8,$9,$10,
			$11,$12,$13,
			$14,$15,$16,
			$17,$18,$19,$20,
			$21,$22,
			$23,$24,$25,$26,$27,$28,
			$29,$30,
			$31,$32,$33,$34
		) RETURNING id
	`,
		m.Text, string(m.Type), tags, facets, m.Weight,
		embeddingJSON, vec, len(m.Embedding.Vector), nullStr(m.Embedding.Model), nullStr(m.Embedding.Provider),
		nullStr(m.Source), nullStr(m.AutoFrequency), nullTime(m.NextAutoUpdateAt),
		nullTime(m.ExpireAt), nullStr(string(m.ExpireAction)), nullStr(m.ExpireReason),
		nullStr(string(m.LockMode)), nullStr(m.LockReason), nullStr(m.LockPolicy), nullTime(m.LockExpires),
		lineageParents, lineageChildren,
		valueOr(m.Permissions.ReadLevel, t2m.PermOpen), valueOr(m.Permissions.WriteLevel, t2m.PermOpen),
		readWL, readBL, writeWL, writeBL,
		valueOr(m.ReadPermLevel, t2m.PermOpen), valueOr(m.WritePermLevel, t2m.PermOpen),
		string(m.State), m.Deleted, m.CreatedAt, m.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert: %w", err)
	}
	m.ID = id
	return id, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func valueOr(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

func orEmptyStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func orEmptyInt64s(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

// Get retrieves a memory by id.
func (s *Store) Get(ctx context.Context, id int64) (*t2m.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM memory WHERE id = $1", id)
	m, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	return m, nil
}

// List retrieves a page of memories.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.PaginatedResult[t2m.MemoryRecord], error) {
	opts.Normalize()
	where := []string{}
	if !opts.IncludeDeleted {
		where = append(where, "deleted = false")
	}
	if opts.OnlyDeleted {
		where = append(where, "deleted = true")
	}
	if opts.Type != "" {
		where = append(where, fmt.Sprintf("type = %s", pq.QuoteLiteral(opts.Type)))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory "+whereSQL).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: list count: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM memory %s ORDER BY %s %s LIMIT %d OFFSET %d",
		columns, whereSQL, opts.SortBy, strings.ToUpper(opts.SortOrder), opts.Limit, opts.Offset())
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	items := []t2m.MemoryRecord{}
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *m)
	}
	return &store.PaginatedResult[t2m.MemoryRecord]{Items: items, Total: total, Page: opts.Page, PageSize: opts.Limit}, rows.Err()
}

// Update overwrites a row, mirroring Insert's column set.
func (s *Store) Update(ctx context.Context, m *t2m.MemoryRecord) error {
	if m == nil || m.ID == 0 {
		return store.ErrInvalidInput
	}
	m.ClampWeight()
	m.UpdatedAt = time.Now()

	tags, _ := json.Marshal(orEmptyStrings(m.Tags))
	facets, _ := json.Marshal(m.Facets)
	lineageParents, _ := json.Marshal(orEmptyInt64s(m.LineageParents))
	lineageChildren, _ := json.Marshal(orEmptyInt64s(m.LineageChildren))

	var embeddingJSON sql.NullString
	var vec *pgvector.Vector
	if len(m.Embedding.Vector) > 0 {
		b, _ := json.Marshal(m.Embedding.Vector)
		embeddingJSON = sql.NullString{String: string(b), Valid: true}
		v32 := make([]float32, len(m.Embedding.Vector))
		for i, f := range m.Embedding.Vector {
			v32[i] = float32(f)
		}
		vv := pgvector.NewVector(v32)
		vec = &vv
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memory SET
			text=$1, type=$2, tags=$3, facets=$4, weight=$5,
			embedding=$6, embedding_vec=$7, embedding_dim=$8, embedding_model=$9, embedding_provider=$10,
			state=$11, deleted=$12, updated_at=$13,
			lineage_parents=$14, lineage_children=$15
		WHERE id=$16
	`, m.Text, string(m.Type), tags, facets, m.Weight,
		embeddingJSON, vec, len(m.Embedding.Vector), nullStr(m.Embedding.Model), nullStr(m.Embedding.Provider),
		string(m.State), m.Deleted, m.UpdatedAt,
		lineageParents, lineageChildren,
		m.ID)
	if err != nil {
		return fmt.Errorf("postgres: update: %w", err)
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

func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE memory SET deleted=true, state=$1, updated_at=now() WHERE id=$2", string(t2m.StateDeleted), id)
	if err != nil {
		return fmt.Errorf("postgres: soft delete: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

func (s *Store) HardDelete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memory WHERE id=$1", id)
	if err != nil {
		return fmt.Errorf("postgres: hard delete: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

func (s *Store) Restore(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE memory SET deleted=false, state=$1, updated_at=now() WHERE id=$2 AND deleted=true", string(t2m.StateActive), id)
	if err != nil {
		return fmt.Errorf("postgres: restore: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

func (s *Store) UpdateState(ctx context.Context, id int64, state t2m.LifecycleState) error {
	res, err := s.db.ExecContext(ctx, "UPDATE memory SET state=$1, updated_at=now() WHERE id=$2", string(state), id)
	if err != nil {
		return fmt.Errorf("postgres: update state: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// FilterIDs translates a FilterSpec into SQL, using Postgres JSONB
// containment instead of LIKE-on-serialized-JSON. It applies has_tags,
// not_tags, type, weight_gte/weight_lte and limit; subject, location,
// topic, expire_before/expire_after and time_range are not applied.
func (s *Store) FilterIDs(ctx context.Context, f *t2m.FilterSpec, now time.Time) ([]int64, error) {
	where := []string{"deleted = false"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f != nil {
		for _, tag := range f.HasTags {
			where = append(where, fmt.Sprintf("tags @> %s::jsonb", arg(mustJSON([]string{tag}))))
		}
		for _, tag := range f.NotTags {
			where = append(where, fmt.Sprintf("NOT (tags @> %s::jsonb)", arg(mustJSON([]string{tag}))))
		}
		if f.Type != "" {
			where = append(where, fmt.Sprintf("type = %s", arg(f.Type)))
		}
		if f.WeightGTE != nil {
			where = append(where, fmt.Sprintf("weight >= %s", arg(*f.WeightGTE)))
		}
		if f.WeightLTE != nil {
			where = append(where, fmt.Sprintf("weight <= %s", arg(*f.WeightLTE)))
		}
	}

	q := "SELECT id FROM memory WHERE " + strings.Join(where, " AND ") + " ORDER BY id ASC"
	if f != nil && f.Limit != nil && *f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", *f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: filter ids: %w", err)
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

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// FullTextSearch, VectorSearch, and HybridSearch implement the same
// weighted-sum formula as the sqlite backend (§4.5) but let Postgres do
// the ANN ordering on embedding_vec via pgvector's <-> operator before
// the Go-side keyword blend, so large candidate pools don't need a full
// in-process cosine scan.
func (s *Store) FullTextSearch(ctx context.Context, query string, opts store.SearchOptions) ([]store.ScoredRecord, *store.SearchMeta, error) {
	return s.search(ctx, query, nil, opts)
}

func (s *Store) VectorSearch(ctx context.Context, query []float64, opts store.SearchOptions) ([]store.ScoredRecord, *store.SearchMeta, error) {
	return s.search(ctx, "", query, opts)
}

func (s *Store) HybridSearch(ctx context.Context, text string, vector []float64, opts store.SearchOptions) ([]store.ScoredRecord, *store.SearchMeta, error) {
	return s.search(ctx, text, vector, opts)
}

func (s *Store) search(ctx context.Context, text string, vector []float64, opts store.SearchOptions) ([]store.ScoredRecord, *store.SearchMeta, error) {
	if opts.Alpha == 0 && opts.Beta == 0 {
		opts.Alpha, opts.Beta, opts.PhraseBonus = 0.7, 0.3, 0.2
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	meta := &store.SearchMeta{}

	q := "SELECT " + columns + " FROM memory WHERE deleted = false"
	var args []interface{}
	if len(opts.FilterIDs) > 0 {
		q += " AND id = ANY($1)"
		args = append(args, pq.Array(opts.FilterIDs))
	}
	if len(vector) > 0 {
		v32 := make([]float32, len(vector))
		for i, f := range vector {
			v32[i] = float32(f)
		}
		vv := pgvector.NewVector(v32)
		q += fmt.Sprintf(" ORDER BY embedding_vec <-> $%d LIMIT 500", len(args)+1)
		args = append(args, vv)
	} else {
		q += fmt.Sprintf(" LIMIT 500")
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	var candidates []*t2m.MemoryRecord
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, nil, err
		}
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(vector) > 0 {
		refDim := 0
		counts := map[int]int{}
		for _, c := range candidates {
			if c.Embedding.Dim > 0 {
				counts[c.Embedding.Dim]++
			}
		}
		for dim, n := range counts {
			if n > counts[refDim] {
				refDim = dim
			}
		}
		if refDim > 0 && len(vector) != refDim {
			meta.Note = "query_vector_dimension_mismatch"
			return nil, meta, nil
		}
	}

	scored := make([]store.ScoredRecord, 0, len(candidates))
	for _, c := range candidates {
		var cos float64
		if len(vector) > 0 {
			if c.Embedding.Dim != len(vector) || c.Embedding.Dim == 0 {
				meta.SkippedIncompatibleVectors++
				continue
			}
			cos = cosine(vector, c.Embedding.Vector)
		}
		kw, exact := keywordScore(text, c.Text)
		sim := opts.Alpha*cos + opts.Beta*kw
		if exact {
			sim += opts.PhraseBonus
		}
		if sim > 1.0 {
			sim = 1.0
		}
		scored = append(scored, store.ScoredRecord{Record: c, Score: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored, meta, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func keywordScore(query, text string) (float64, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(text)
	if q == "" {
		return 0, false
	}
	if strings.Contains(t, q) {
		return 1.0, true
	}
	tokens := strings.Fields(q)
	if len(tokens) == 0 {
		return 0, false
	}
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(t, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens)), false
}
