package checkpoint

// migrations are applied in order; PRAGMA user_version records how many ran
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS results (
    strategy TEXT NOT NULL,
    instance_id TEXT NOT NULL,
    repo TEXT NOT NULL DEFAULT '',
    patch TEXT NOT NULL DEFAULT '',
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error TEXT,
    elapsed_sec REAL NOT NULL DEFAULT 0,
    tokens_used INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (strategy, instance_id)
);

CREATE INDEX IF NOT EXISTS idx_results_repo ON results(repo);
`,
	`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    strategy TEXT NOT NULL,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    total INTEGER NOT NULL DEFAULT 0,
    generated INTEGER NOT NULL DEFAULT 0,
    valid INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy);
`,
	`
ALTER TABLE results ADD COLUMN applied BOOLEAN;
`,
}
