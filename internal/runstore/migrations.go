package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    output_path TEXT,
    total_iterations INTEGER NOT NULL DEFAULT 0,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    final_score REAL,
    result_json TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS decompositions (
    run_id TEXT PRIMARY KEY,
    description_json TEXT NOT NULL,
    sub_processes_json TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`
