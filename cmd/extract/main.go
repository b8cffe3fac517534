package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/marketplace-extractor/internal/app"
	"github.com/maltedev/marketplace-extractor/internal/config"
	"github.com/maltedev/marketplace-extractor/internal/logging"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

func main() {
	var (
		rawURL      = flag.String("url", "", "Product URL or shortlink to extract")
		originalURL = flag.String("original-url", "", "URL as the user shared it, if different")
		skipBrowser = flag.Bool("skip-browser", false, "Skip the browser strategy")
		fields      = flag.String("fields", "", "Comma separated optional fields (description,rating,reviewCount,seller)")
		previewOnly = flag.Bool("preview-only", false, "Build the record from preview services only")
	)
	flag.Parse()

	if *rawURL == "" {
		fmt.Fprintln(os.Stderr, "usage: extract -url <product url> [-skip-browser] [-fields description,rating] [-preview-only]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// the CLI never publishes events
	cfg.Events.Enabled = false
	cfg.Database.Enabled = false

	logger := logging.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	opts := models.Options{
		OriginalURL:           *originalURL,
		Origin:                "cli",
		SkipBrowserAutomation: *skipBrowser,
		Fields:                models.ParseFields(*fields),
	}

	var result models.Result
	if *previewOnly {
		result = application.Service().Preview(ctx, *rawURL, nil, opts)
	} else {
		result = application.Service().Extract(ctx, *rawURL, opts)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("failed to encode result", "error", err)
		os.Exit(1)
	}

	if !result.Success {
		os.Exit(1)
	}
}
