package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/navfoundry/ubx2rinex/pkg/assembler"
	"github.com/navfoundry/ubx2rinex/pkg/settings"
	"github.com/navfoundry/ubx2rinex/pkg/tileout"
	"github.com/navfoundry/ubx2rinex/pkg/timescale"
	"github.com/navfoundry/ubx2rinex/pkg/ubx"
)

var VERSION string

func main() {
	// Initialize slog with text handler
	handler := slog.NewTextHandler(os.Stderr, nil)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	settings.LoadEnv()

	arrayPtr := flag.String("array", "", "TileDB array URI")
	regionPtr := flag.String("region", os.Getenv("TILEDB_REGION"), "S3 region for remote arrays")
	flag.Parse()

	filenames := flag.Args()
	if len(filenames) == 0 {
		flag.PrintDefaults()
		slog.Error("No capture files specified")
		os.Exit(1)
	}
	if *arrayPtr == "" {
		flag.PrintDefaults()
		slog.Error("Missing required arguments")
		os.Exit(1)
	}
	if !tileout.ArrayExists(*arrayPtr) {
		slog.Error("TileDB array not found", "array", *arrayPtr)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 4) // Limit concurrent captures

	for _, filename := range filenames {
		wg.Add(1)
		go func(filename string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			epochs, err := replayPositions(filename)
			if err != nil {
				slog.Error("Replay failed", "filename", filename, "error", err)
				return
			}
			if len(epochs) == 0 {
				slog.Warn("No epochs found in capture", "filename", filename)
				return
			}
			if err := tileout.WritePositions(*arrayPtr, *regionPtr, epochs); err != nil {
				slog.Error("TileDB write failed", "filename", filename, "error", err)
				return
			}
			slog.Info("Capture archived", "filename", filename, "epochs", len(epochs))
		}(filename)
	}
	wg.Wait()
}

// replayPositions assembles a capture into epochs. Position archiving is
// always in GPS time regardless of the session constellations.
func replayPositions(filename string) ([]*assembler.Epoch, error) {
	stream, err := ubx.OpenCapture(filename, nil)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	asm := assembler.New(timescale.GPST, nil)
	var epochs []*assembler.Epoch
	for {
		rec, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return epochs, err
		}
		epochs = append(epochs, asm.Ingest(rec)...)
	}
	return append(epochs, asm.Drain()...), nil
}
