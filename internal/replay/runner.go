package replay

import (
	"context"

	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"bookreplay/internal/checkpoint"
	"bookreplay/internal/deltastream"
	"bookreplay/internal/obs"
	"bookreplay/internal/ops"
	"bookreplay/internal/schema"
)

// RunnerConfig controls the multi-symbol run.
type RunnerConfig struct {
	Spec ops.ReplaySpec
	// SymbolDirs overrides the default <DeltasDir>/<symbol> layout.
	SymbolDirs map[schema.SymbolID]string
	Store      checkpoint.Store
	// CheckpointEvery batches; zero disables periodic checkpoints.
	CheckpointEvery int
	// MaxParallel caps concurrently running shards. Zero means no cap.
	MaxParallel int
	// Resume loads checkpoints and continues from them when present.
	Resume        bool
	ReaderOptions deltastream.ReaderOptions
	// Metrics is optional and shared by all shards.
	Metrics *obs.Metrics
}

// Runner replays every registry symbol as an independent shard.
type Runner struct {
	cfg      RunnerConfig
	registry *schema.Registry
}

// NewRunner builds a runner over all registry symbols.
func NewRunner(registry *schema.Registry, cfg RunnerConfig) *Runner {
	return &Runner{cfg: cfg, registry: registry}
}

// Run executes all shards and returns one result per symbol, in
// registry order. A failed shard never stops its siblings.
func (r *Runner) Run(ctx context.Context) []Result {
	count := r.registry.SymbolCount()
	results := make([]Result, count)

	var eg errgroup.Group
	if r.cfg.MaxParallel > 0 {
		eg.SetLimit(r.cfg.MaxParallel)
	}
	for i := 0; i < count; i++ {
		symbol, _ := r.registry.SymbolAt(i)
		idx := i
		eg.Go(func() error {
			results[idx] = r.runShard(ctx, symbol)
			return nil
		})
	}
	eg.Wait()
	return results
}

func (r *Runner) runShard(ctx context.Context, symbol schema.Symbol) Result {
	failed := func(err error) Result {
		return Result{Symbol: symbol.Name, Status: StatusFailed, Err: err}
	}

	var resume checkpoint.Checkpoint
	resuming := false
	if r.cfg.Resume && r.cfg.Store != nil {
		cp, ok, err := r.cfg.Store.Load(symbol.Name)
		if err != nil {
			return failed(err)
		}
		resume, resuming = cp, ok
	}

	sink, err := NewNDJSONSink(r.cfg.Spec.OutputDir, symbol, resuming)
	if err != nil {
		return failed(err)
	}

	shard, err := NewShard(ShardConfig{
		Symbol:          symbol,
		Dir:             r.shardDir(symbol),
		Spec:            r.cfg.Spec,
		Store:           r.cfg.Store,
		CheckpointEvery: r.cfg.CheckpointEvery,
		ReaderOptions:   r.cfg.ReaderOptions,
		Metrics:         r.cfg.Metrics,
	}, sink)
	if err != nil {
		sink.Close()
		return failed(err)
	}

	if resuming {
		if err := shard.ResumeFrom(resume); err != nil {
			shard.stream.Close()
			sink.Close()
			return failed(err)
		}
		logs.Infof("resume %s from batch %d", symbol.Name, resume.BatchSeq)
	}

	result := shard.Run(ctx)
	logs.Infof("shard %s done: status=%s batches=%d snapshots=%d applied=%d crossed=%d outOfOrder=%d malformed=%d",
		result.Symbol, result.Status, result.Batches, result.Snapshots,
		result.Applied, result.CrossedBook, result.OutOfOrder, result.Malformed)
	if result.Err != nil {
		logs.Errorf("shard %s, err: %+v", result.Symbol, result.Err)
	}
	return result
}

func (r *Runner) shardDir(symbol schema.Symbol) string {
	if dir, ok := r.cfg.SymbolDirs[symbol.ID]; ok {
		return dir
	}
	return r.cfg.Spec.DeltasDir + "/" + symbol.Name
}
