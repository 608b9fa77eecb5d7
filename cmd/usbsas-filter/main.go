// Command usbsas-filter is the filter worker binary: it rejects selected
// paths that match a configured glob or MIME-type denylist.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/filter"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("filter: load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})

	if cfg.Device.SourceRoot == "" {
		logger.Error("filter: device.source_root is not configured")
		os.Exit(1)
	}

	w := filter.New(cfg.Device.SourceRoot, cfg.Filter)
	if err := worker.Run("filter", w.Handlers(), worker.Options{}); err != nil {
		logger.Error("filter worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
