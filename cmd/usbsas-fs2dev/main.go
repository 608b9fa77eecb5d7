// Command usbsas-fs2dev is the fs2dev worker binary: it copies the
// filesystem image files2fs built (or raw sectors, for ImgDisk) to the
// destination device stand-in, and performs device wipes. It starts locked
// and is unlocked with the (devnum<<32)|busnum payload identifying which
// destination device to open; an all-zero payload means no
// USB destination is involved in this transfer.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/fs2dev"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	fsPath := flag.String("fs", "", "staging filesystem image path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("fs2dev: load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})

	if *fsPath == "" || cfg.Device.DestPath == "" {
		logger.Error("fs2dev: --fs and device.dest_path are required")
		os.Exit(1)
	}

	w := fs2dev.New(*fsPath, cfg.Device.DestPath, cfg.Device.DestSizeBytes)
	opts := worker.Options{WaitOnStartup: true, OnUnlock: w.OnUnlock}
	if err := worker.Run("fs2dev", w.Handlers(), opts); err != nil {
		logger.Error("fs2dev worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
