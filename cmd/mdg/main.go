package main

import (
	"flag"
	"log"
	"path/filepath"

	"bookreplay/internal/deltastream"
	"bookreplay/internal/mdg"
	"bookreplay/internal/ops"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	outDir := flag.String("out", "", "Output directory (default: replay deltasDir)")
	batches := flag.Int("batches", 100, "Number of batches per symbol")
	batchSize := flag.Int("batch-size", 512, "Deltas per batch")
	seed := flag.Int64("seed", 1, "RNG seed")
	basePrice := flag.Int64("base-price", 10_000_000, "Base mid price (scaled)")
	baseAmount := flag.Int64("base-amount", 100_000, "Base amount (scaled)")
	tick := flag.Int64("tick", 100, "Price tick (scaled)")
	levels := flag.Int("levels", 20, "Levels per side")
	deleteRatio := flag.Float64("delete-ratio", 0.15, "Share of zero-amount deltas")
	resyncEvery := flag.Int("resync-every", 0, "Mark every Nth batch as resync (0=never)")
	flag.Parse()

	if *batches <= 0 || *batchSize <= 0 {
		log.Fatalf("batches and batch-size must be > 0")
	}
	if *configPath == "" {
		log.Fatalf("config is required")
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	dir := *outDir
	if dir == "" {
		dir = loaded.Replay.DeltasDir
	}

	for i := 0; i < loaded.Registry.SymbolCount(); i++ {
		symbol, _ := loaded.Registry.SymbolAt(i)
		generator, err := mdg.NewGenerator(mdg.Config{
			Seed:        *seed + int64(i),
			BasePrice:   *basePrice,
			Tick:        *tick,
			BaseAmount:  *baseAmount,
			Levels:      *levels,
			Step:        loaded.Replay.Interval / 10,
			DeleteRatio: *deleteRatio,
		})
		if err != nil {
			log.Fatalf("generator init failed: %v", err)
		}

		writer, err := deltastream.NewWriter(deltastream.WriterConfig{
			Dir: filepath.Join(dir, symbol.Name),
		})
		if err != nil {
			log.Fatalf("writer init failed: %v", err)
		}
		total := 0
		for batch := 1; batch <= *batches; batch++ {
			var flags uint16
			if *resyncEvery > 0 && batch%*resyncEvery == 0 {
				flags = deltastream.FlagResync
			}
			records := generator.NextBatch(*batchSize)
			if err := writer.WriteBatch(records, flags); err != nil {
				log.Fatalf("write batch failed: %v", err)
			}
			total += len(records)
		}
		if err := writer.Close(); err != nil {
			log.Fatalf("writer close failed: %v", err)
		}
		log.Printf("%s: wrote %d deltas in %d batches", symbol.Name, total, *batches)
	}
}
