// Command usbsas-analyzer is the analyzer worker binary: it submits the
// staging archive to an external scanner over HTTP and relays its
// clean/dirty verdict.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/analyzer"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	archivePath := flag.String("archive", "", "staging tar archive path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("analyzer: load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})

	if !cfg.Analyzer.Enabled {
		logger.Warn("analyzer: spawned but analyzer.enabled is false in config")
	}

	if *archivePath == "" {
		logger.Error("analyzer: --archive is required")
		os.Exit(1)
	}

	w := analyzer.New(cfg.Analyzer, *archivePath)
	if err := worker.Run("analyzer", w.Handlers(), worker.Options{}); err != nil {
		logger.Error("analyzer worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
