// Package ops loads and resolves the runtime configuration.
package ops

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"bookreplay/internal/schema"
)

const (
	defaultDepth      = 50
	defaultIntervalMS = 100
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Symbols    []SymbolConfig   `json:"symbols"`
	Replay     ReplayConfig     `json:"replay"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	Profiling  ProfilingConfig  `json:"profiling"`
}

// SymbolConfig describes one replayable symbol. Dir overrides the
// default per-symbol delta directory under Replay.DeltasDir.
type SymbolConfig struct {
	Name  string             `json:"name"`
	Scale schema.Multipliers `json:"scale"`
	Dir   string             `json:"dir"`
}

// ReplayConfig describes the sampling run.
type ReplayConfig struct {
	DeltasDir  string `json:"deltasDir"`
	OutputDir  string `json:"outputDir"`
	Depth      int    `json:"depth"`
	IntervalMS int64  `json:"intervalMs"`
	Strict     bool   `json:"strict"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
}

// CheckpointConfig selects the checkpoint backend. Postgres wins when a
// connection string is set, otherwise the file store under Dir is used.
// EveryBatches of zero disables periodic checkpointing.
type CheckpointConfig struct {
	Dir          string `json:"dir"`
	PostgresDSN  string `json:"postgresDsn"`
	EveryBatches int    `json:"everyBatches"`
}

// ProfilingConfig captures optional pyroscope settings.
type ProfilingConfig struct {
	Enable        bool   `json:"enable"`
	ServerAddress string `json:"serverAddress"`
	AppName       string `json:"appName"`
}

// ReplaySpec is the resolved sampling run definition. Interval is in
// nanoseconds.
type ReplaySpec struct {
	DeltasDir string
	OutputDir string
	Depth     int
	Interval  int64
	Strict    bool
	StartTime int64
	EndTime   int64
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry   *schema.Registry
	SymbolDirs map[schema.SymbolID]string
	Replay     ReplaySpec
	Checkpoint CheckpointConfig
	Profiling  ProfilingConfig
}

// Load reads a JSON config file and builds the registry.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	registry, dirs, err := buildRegistry(cfg.Symbols)
	if err != nil {
		return Loaded{}, err
	}
	spec, err := resolveReplaySpec(cfg.Replay)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Registry:   registry,
		SymbolDirs: dirs,
		Replay:     spec,
		Checkpoint: cfg.Checkpoint,
		Profiling:  cfg.Profiling,
	}, nil
}

func buildRegistry(symbols []SymbolConfig) (*schema.Registry, map[schema.SymbolID]string, error) {
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("config has no symbols")
	}
	reg := schema.NewRegistry()
	dirs := make(map[schema.SymbolID]string, len(symbols))
	for _, sym := range symbols {
		id, err := reg.AddSymbol(sym.Name, sym.Scale)
		if err != nil {
			return nil, nil, err
		}
		if sym.Dir != "" {
			dirs[id] = sym.Dir
		}
	}
	return reg, dirs, nil
}

func resolveReplaySpec(cfg ReplayConfig) (ReplaySpec, error) {
	if cfg.DeltasDir == "" {
		return ReplaySpec{}, fmt.Errorf("replay deltasDir is empty")
	}
	if cfg.OutputDir == "" {
		return ReplaySpec{}, fmt.Errorf("replay outputDir is empty")
	}
	if cfg.Depth < 0 {
		return ReplaySpec{}, fmt.Errorf("replay depth must be >= 0")
	}
	if cfg.IntervalMS < 0 {
		return ReplaySpec{}, fmt.Errorf("replay intervalMs must be >= 0")
	}
	depth := cfg.Depth
	if depth == 0 {
		depth = defaultDepth
	}
	intervalMS := cfg.IntervalMS
	if intervalMS == 0 {
		intervalMS = defaultIntervalMS
	}
	if cfg.EndTime != 0 && cfg.StartTime > cfg.EndTime {
		return ReplaySpec{}, fmt.Errorf("replay startTime is after endTime")
	}
	return ReplaySpec{
		DeltasDir: cfg.DeltasDir,
		OutputDir: cfg.OutputDir,
		Depth:     depth,
		Interval:  intervalMS * int64(time.Millisecond),
		Strict:    cfg.Strict,
		StartTime: cfg.StartTime,
		EndTime:   cfg.EndTime,
	}, nil
}
