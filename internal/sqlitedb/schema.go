package sqlitedb

// schemaDDL is the persisted layout from spec.md §6. Foreign keys are
// declared but enforcement is toggled off for the duration of Reset and the
// pruner's orphan sweep (spec.md §4.2/§4.6): both leave the graph in a
// transiently inconsistent state before the final commit.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value_blob BLOB,
	value_number INTEGER
);

CREATE TABLE IF NOT EXISTS trie_node (
	hash BLOB PRIMARY KEY,
	partial_key BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
	hash BLOB PRIMARY KEY,
	parent_hash BLOB REFERENCES blocks(hash),
	state_trie_root_hash BLOB REFERENCES trie_node(hash),
	number INTEGER NOT NULL,
	header BLOB NOT NULL,
	is_best_chain INTEGER NOT NULL DEFAULT 0,
	justification BLOB
);
CREATE INDEX IF NOT EXISTS blocks_number_idx ON blocks(number);
CREATE INDEX IF NOT EXISTS blocks_best_idx ON blocks(is_best_chain);

CREATE TABLE IF NOT EXISTS blocks_body (
	hash BLOB NOT NULL REFERENCES blocks(hash),
	idx INTEGER NOT NULL,
	extrinsic BLOB NOT NULL,
	PRIMARY KEY (hash, idx)
);

CREATE TABLE IF NOT EXISTS trie_node_child (
	hash BLOB NOT NULL REFERENCES trie_node(hash),
	child_num BLOB NOT NULL,
	child_hash BLOB NOT NULL REFERENCES trie_node(hash),
	PRIMARY KEY (hash, child_num)
);

CREATE TABLE IF NOT EXISTS trie_node_storage (
	node_hash BLOB PRIMARY KEY REFERENCES trie_node(hash),
	value BLOB,
	trie_root_ref BLOB,
	trie_entry_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS grandpa_triggered_authorities (
	idx INTEGER PRIMARY KEY,
	public_key BLOB NOT NULL,
	weight INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS grandpa_scheduled_authorities (
	idx INTEGER PRIMARY KEY,
	public_key BLOB NOT NULL,
	weight INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS aura_finalized_authorities (
	idx INTEGER PRIMARY KEY,
	public_key BLOB NOT NULL
);
`
