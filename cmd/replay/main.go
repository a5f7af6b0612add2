package main

import (
	"context"
	"flag"
	"log"
	"os"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/pkg/sys"

	"bookreplay/internal/checkpoint"
	"bookreplay/internal/deltastream"
	"bookreplay/internal/obs"
	"bookreplay/internal/ops"
	"bookreplay/internal/replay"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	resume := flag.Bool("resume", false, "Resume shards from stored checkpoints")
	maxParallel := flag.Int("max-parallel", 0, "Max concurrent shards (0=all)")
	noChecksum := flag.Bool("no-checksum", false, "Disable frame checksum validation")
	flag.Parse()

	if *configPath == "" {
		log.Fatalf("config is required")
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Profiling.Enable {
		stop, err := startProfiler(loaded.Profiling)
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer stop()
	}

	store, closeStore, err := openStore(loaded.Checkpoint)
	if err != nil {
		log.Fatalf("checkpoint store init failed: %v", err)
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	metrics := obs.NewMetrics()
	runner := replay.NewRunner(loaded.Registry, replay.RunnerConfig{
		Spec:            loaded.Replay,
		SymbolDirs:      loaded.SymbolDirs,
		Store:           store,
		CheckpointEvery: loaded.Checkpoint.EveryBatches,
		MaxParallel:     *maxParallel,
		Resume:          *resume,
		ReaderOptions:   deltastream.ReaderOptions{DisableChecksum: *noChecksum},
		Metrics:         metrics,
	})
	results := runner.Run(ctx)

	exit := 0
	for _, result := range results {
		if result.Status == replay.StatusFailed {
			exit = 1
		}
		log.Printf("%s: status=%s snapshots=%d applied=%d crossed=%d out_of_order=%d malformed=%d last_seq=%d",
			result.Symbol, result.Status, result.Snapshots, result.Applied,
			result.CrossedBook, result.OutOfOrder, result.Malformed, result.LastSeq)
	}
	snapshot := metrics.Snapshot()
	log.Printf("metrics: batches=%d records=%d snapshots=%d resyncs=%d batch_latency=%+v",
		snapshot.Batches, snapshot.Records, snapshot.Snapshots, snapshot.Resyncs, snapshot.BatchLatency)
	os.Exit(exit)
}

func openStore(cfg ops.CheckpointConfig) (checkpoint.Store, func(), error) {
	noop := func() {}
	if cfg.PostgresDSN != "" {
		pg, err := checkpoint.NewPGStore(checkpoint.PGOption{ConnString: cfg.PostgresDSN})
		if err != nil {
			return nil, noop, err
		}
		return pg, func() { pg.Close() }, nil
	}
	if cfg.Dir != "" {
		fs, err := checkpoint.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	}
	return nil, noop, nil
}

func startProfiler(cfg ops.ProfilingConfig) (func(), error) {
	appName := cfg.AppName
	if appName == "" {
		appName = "bookreplay"
	}
	serverAddress := cfg.ServerAddress
	if serverAddress == "" {
		serverAddress = "http://localhost:4040"
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, err
	}
	return func() { profiler.Stop() }, nil
}
