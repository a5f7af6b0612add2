package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"bookreplay/internal/deltastream"
	"bookreplay/internal/ingest"
	"bookreplay/internal/ops"
	"bookreplay/internal/schema"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	symbolName := flag.String("symbol", "", "Symbol to convert")
	inPath := flag.String("in", "", "NDJSON depth dump to read")
	outDir := flag.String("out", "", "Output directory (default: <deltasDir>/<symbol>)")
	batchRows := flag.Int("batch-rows", 256, "Depth rows per written batch")
	flag.Parse()

	if *configPath == "" || *symbolName == "" || *inPath == "" {
		log.Fatalf("config, symbol and in are required")
	}
	if *batchRows <= 0 {
		log.Fatalf("batch-rows must be > 0")
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	symbol, ok := loaded.Registry.SymbolByName(*symbolName)
	if !ok {
		log.Fatalf("symbol not found: %s", *symbolName)
	}
	dir := *outDir
	if dir == "" {
		dir = filepath.Join(loaded.Replay.DeltasDir, symbol.Name)
	}

	converter, err := ingest.NewConverter(symbol.Scale)
	if err != nil {
		log.Fatalf("converter init failed: %v", err)
	}
	writer, err := deltastream.NewWriter(deltastream.WriterConfig{Dir: dir})
	if err != nil {
		log.Fatalf("writer init failed: %v", err)
	}

	in, err := os.Open(*inPath)
	if err != nil {
		log.Fatalf("open input failed: %v", err)
	}
	defer in.Close()

	var pending []schema.DeltaRecord
	rows, total := 0, 0
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := writer.WriteBatch(pending, 0); err != nil {
			return err
		}
		total += len(pending)
		pending = pending[:0]
		return nil
	}

	err = ingest.ReadRows(in, func(row ingest.DepthRow) error {
		records, err := converter.Convert(row)
		if err != nil {
			return err
		}
		// a row that goes back in time starts a fresh batch so every
		// written batch stays sorted
		if len(pending) > 0 && len(records) > 0 &&
			records[0].EventTime < pending[len(pending)-1].EventTime {
			if err := flush(); err != nil {
				return err
			}
		}
		pending = append(pending, records...)
		rows++
		if rows%*batchRows == 0 {
			return flush()
		}
		return nil
	})
	if err != nil {
		log.Fatalf("convert failed: %v", err)
	}
	if err := flush(); err != nil {
		log.Fatalf("write batch failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		log.Fatalf("writer close failed: %v", err)
	}
	log.Printf("%s: converted %d rows into %d deltas under %s", symbol.Name, rows, total, dir)
}
