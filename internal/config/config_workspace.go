package config

// WorkspaceConfig controls the agent's writable directory tree and the
// resource circuit breaker guarding it.
type WorkspaceConfig struct {
	// Root is the workspace directory. Relative paths resolve against the
	// process working directory. Default: "workspace".
	Root string `yaml:"root"`

	// ProjectRoot is the read-only project tree visible to project reads.
	// Default: the parent directory of Root.
	ProjectRoot string `yaml:"project_root"`

	// DenyWrite are glob patterns (base names) writes may never touch.
	// Default: .env, .env.*, *.pem, *.key.
	DenyWrite []string `yaml:"deny_write"`

	// MaxBytes caps total workspace disk usage. Default: 5 GiB.
	MaxBytes uint64 `yaml:"max_bytes"`

	// MinFreeMemory is the minimum available system memory fraction required
	// before write-producing operations run. Default: 0.10.
	MinFreeMemory float64 `yaml:"min_free_memory"`
}

// TasksConfig controls the durable task queue.
type TasksConfig struct {
	// Dir overrides the queue directory. Default: <workspace>/queue.
	Dir string `yaml:"dir"`

	// CheckpointDir overrides the checkpoint directory.
	// Default: <workspace>/notes/checkpoints.
	CheckpointDir string `yaml:"checkpoint_dir"`
}

// SessionsConfig controls conversation transcript persistence.
type SessionsConfig struct {
	// Enabled turns transcript persistence on. Default: false.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file, relative to the workspace root when
	// not absolute. Default: "data/sessions.db".
	Path string `yaml:"path"`
}
