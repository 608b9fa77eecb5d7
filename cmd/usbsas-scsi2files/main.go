// Command usbsas-scsi2files is the scsi2files worker binary: it answers
// Partitions/OpenPartition/ReadDir/ReadSectors requests against a directory
// standing in for the opened source device's single partition.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/scsi2files"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("scsi2files: load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})

	if cfg.Device.SourceRoot == "" {
		logger.Error("scsi2files: device.source_root is not configured")
		os.Exit(1)
	}

	w := scsi2files.New(cfg.Device.SourceRoot, cfg.Device.SourceFSType)
	if err := worker.Run("scsi2files", w.Handlers(), worker.Options{}); err != nil {
		logger.Error("scsi2files worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
