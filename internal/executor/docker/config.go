package docker

import (
	"path/filepath"
	"time"
)

// Config holds the configuration for running R inside Docker.
type Config struct {
	// Image is the Docker image to use for execution. It must provide
	// Rscript on PATH.
	Image string
	// DataRoot is bind-mounted into every container at the same path, so
	// scripts, snapshots and artifacts resolve identically on both sides.
	DataRoot string
	// ScriptDir receives transient script files. It must live under
	// DataRoot.
	ScriptDir string
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// Timeout is the maximum amount of time one script can take.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// User runs the interpreter; it needs write access to DataRoot.
	User string
}

// DefaultConfig provides defaults for an R sandbox rooted at dataRoot.
func DefaultConfig(dataRoot string) Config {
	return Config{
		Image:       "rocker/tidyverse:4.4",
		DataRoot:    dataRoot,
		ScriptDir:   filepath.Join(dataRoot, ".scripts"),
		MemoryLimit: 2 * 1024 * 1024 * 1024,
		CPULimit:    1,
		Timeout:     60 * time.Second,
		PoolSize:    2,
		User:        "",
	}
}
