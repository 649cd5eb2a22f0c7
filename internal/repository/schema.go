package repository

// Schema definitions for the cotation save ledger.
// Compatible with both SQLite and PostgreSQL.

const schemaSaves = `
CREATE TABLE IF NOT EXISTS cotation_saves (
    id TEXT PRIMARY KEY,
    practitioner_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    seance_id BIGINT NOT NULL,
    grille_id BIGINT NOT NULL,
    status TEXT NOT NULL,
    global_percent INTEGER NOT NULL,
    rated_count INTEGER NOT NULL,
    total_count INTEGER NOT NULL,
    payload TEXT NOT NULL,
    message TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cotation_saves_seance ON cotation_saves(seance_id, created_at);
CREATE INDEX IF NOT EXISTS idx_cotation_saves_status ON cotation_saves(seance_id, grille_id, status);
CREATE INDEX IF NOT EXISTS idx_cotation_saves_practitioner ON cotation_saves(practitioner_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSaves,
	}
}
