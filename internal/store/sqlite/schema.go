package sqlite

// Schema is the bit-exact table layout required by §6: a single `memory`
// table with an auto-incrementing id, JSON-array columns for tags and the
// permission/lineage sequences, a JSON-object column for facets, and a
// JSON-array `embedding` column (plus `embedding_dim` duplicating its
// length). This diverges from the teacher's binary-blob embedding encoding
// (internal/storage/sqlite/embedding_provider.go's unsafe.Pointer trick) --
// see DESIGN.md for why.
//
// An FTS5 shadow table mirrors `text`, synced by triggers, following the
// same content-table pattern the teacher's search_provider.go comments
// describe. The search functions in search.go do not query it: their
// keyword score is computed in Go over the candidate rows.
const Schema = `
CREATE TABLE IF NOT EXISTS memory (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'generic',
	tags TEXT NOT NULL DEFAULT '[]',
	facets TEXT NOT NULL DEFAULT '{}',
	weight REAL NOT NULL DEFAULT 0.5,

	embedding TEXT,
	embedding_dim INTEGER NOT NULL DEFAULT 0,
	embedding_model TEXT,
	embedding_provider TEXT,

	source TEXT,
	auto_frequency TEXT,
	next_auto_update_at TEXT,

	expire_at TEXT,
	expire_action TEXT,
	expire_reason TEXT,

	lock_mode TEXT,
	lock_reason TEXT,
	lock_policy TEXT,
	lock_expires TEXT,

	lineage_parents TEXT NOT NULL DEFAULT '[]',
	lineage_children TEXT NOT NULL DEFAULT '[]',

	read_level TEXT NOT NULL DEFAULT 'open',
	write_level TEXT NOT NULL DEFAULT 'open',
	read_whitelist TEXT NOT NULL DEFAULT '[]',
	read_blacklist TEXT NOT NULL DEFAULT '[]',
	write_whitelist TEXT NOT NULL DEFAULT '[]',
	write_blacklist TEXT NOT NULL DEFAULT '[]',

	read_perm_level TEXT NOT NULL DEFAULT 'open',
	write_perm_level TEXT NOT NULL DEFAULT 'open',

	state TEXT NOT NULL DEFAULT 'fresh',
	deleted INTEGER NOT NULL DEFAULT 0,

	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_deleted ON memory(deleted);
CREATE INDEX IF NOT EXISTS idx_memory_type ON memory(type);
CREATE INDEX IF NOT EXISTS idx_memory_expire_at ON memory(expire_at);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	text,
	content='memory',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS memory_fts_insert AFTER INSERT ON memory BEGIN
	INSERT INTO memory_fts(rowid, text) VALUES (new.id, new.text);
END;

CREATE TRIGGER IF NOT EXISTS memory_fts_delete AFTER DELETE ON memory BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, text) VALUES('delete', old.id, old.text);
END;

CREATE TRIGGER IF NOT EXISTS memory_fts_update AFTER UPDATE ON memory BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, text) VALUES('delete', old.id, old.text);
	INSERT INTO memory_fts(rowid, text) VALUES (new.id, new.text);
END;
`
