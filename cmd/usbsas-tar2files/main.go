// Command usbsas-tar2files is the tar2files worker binary: it reads back
// the staging tar files2tar wrote, entry by entry, for a USB-destined
// transfer. It starts locked and is unlocked with a 1-byte flag telling it
// whether anyone will actually ask it to unpack anything.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/tar2files"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	archivePath := flag.String("archive", "", "staging tar archive path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("tar2files: load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})

	if *archivePath == "" {
		logger.Error("tar2files: --archive is required")
		os.Exit(1)
	}

	w := tar2files.New(*archivePath)
	opts := worker.Options{WaitOnStartup: true}
	if err := worker.Run("tar2files", w.Handlers(), opts); err != nil {
		logger.Error("tar2files worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
