// Command usbsas-uploader is the uploader worker binary: it streams the
// staging archive to the configured S3-compatible network destination.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/uploader"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	archivePath := flag.String("archive", "", "staging tar archive path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("uploader: load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})

	if *archivePath == "" {
		logger.Error("uploader: --archive is required")
		os.Exit(1)
	}

	w, err := uploader.New(context.Background(), cfg.Network, *archivePath)
	if err != nil {
		logger.Error("uploader: init", logger.Err(err))
		os.Exit(1)
	}
	if err := worker.Run("uploader", w.Handlers(), worker.Options{}); err != nil {
		logger.Error("uploader worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
