// Command usbsas-files2fs is the files2fs worker binary: it builds the
// destination filesystem image (or raw disk image) at the staging fs path
// and serves the image's non-empty-block bitmap through BitVec once the
// image is closed.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/files2fs"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	fsPath := flag.String("fs", "", "staging filesystem image path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("files2fs: load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})

	if *fsPath == "" {
		logger.Error("files2fs: --fs is required")
		os.Exit(1)
	}

	w := files2fs.New(*fsPath)
	if err := worker.Run("files2fs", w.Handlers(), worker.Options{}); err != nil {
		logger.Error("files2fs worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
