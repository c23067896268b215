package postgres

// Schema mirrors the sqlite backend's memory table (internal/store/sqlite
// Schema), adapted to Postgres types: JSONB for the array/object columns,
// and an additional pgvector `embedding_vec` column that mirrors the JSON
// `embedding` column for ANN-indexed similarity search. Grounded on
// internal/storage/postgres/schema.go's DDL shape (tables, FK-free flat
// layout, GIN/ivfflat indexes).
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory (
	id BIGSERIAL PRIMARY KEY,
	text TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'generic',
	tags JSONB NOT NULL DEFAULT '[]',
	facets JSONB NOT NULL DEFAULT '{}',
	weight DOUBLE PRECISION NOT NULL DEFAULT 0.5,

	embedding JSONB,
	embedding_vec vector,
	embedding_dim INTEGER NOT NULL DEFAULT 0,
	embedding_model TEXT,
	embedding_provider TEXT,

	source TEXT,
	auto_frequency TEXT,
	next_auto_update_at TIMESTAMPTZ,

	expire_at TIMESTAMPTZ,
	expire_action TEXT,
	expire_reason TEXT,

	lock_mode TEXT,
	lock_reason TEXT,
	lock_policy TEXT,
	lock_expires TIMESTAMPTZ,

	lineage_parents JSONB NOT NULL DEFAULT '[]',
	lineage_children JSONB NOT NULL DEFAULT '[]',

	read_level TEXT NOT NULL DEFAULT 'open',
	write_level TEXT NOT NULL DEFAULT 'open',
	read_whitelist JSONB NOT NULL DEFAULT '[]',
	read_blacklist JSONB NOT NULL DEFAULT '[]',
	write_whitelist JSONB NOT NULL DEFAULT '[]',
	write_blacklist JSONB NOT NULL DEFAULT '[]',

	read_perm_level TEXT NOT NULL DEFAULT 'open',
	write_perm_level TEXT NOT NULL DEFAULT 'open',

	state TEXT NOT NULL DEFAULT 'fresh',
	deleted BOOLEAN NOT NULL DEFAULT FALSE,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_deleted ON memory(deleted);
CREATE INDEX IF NOT EXISTS idx_memory_type ON memory(type);
CREATE INDEX IF NOT EXISTS idx_memory_tags ON memory USING GIN(tags);
`
