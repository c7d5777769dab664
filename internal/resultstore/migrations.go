package resultstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    design_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    total_tasks INTEGER NOT NULL DEFAULT 0,
    succeeded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_design_hash ON runs(design_hash);

CREATE TABLE IF NOT EXISTS results (
    design_hash TEXT NOT NULL,
    task_index INTEGER NOT NULL,
    condition_index INTEGER NOT NULL,
    replication INTEGER NOT NULL,
    run_id TEXT REFERENCES runs(id),
    status TEXT NOT NULL,
    outputs TEXT,
    error TEXT,
    seed INTEGER NOT NULL DEFAULT 0,
    elapsed_ns INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (design_hash, task_index)
);

CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
`
