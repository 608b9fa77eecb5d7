// Command usbsas-files2tar is the files2tar worker binary: it writes the
// staging tar archive from the file chunks the orchestrator streams to it.
// It starts locked and must be unlocked by the orchestrator before serving
// its first real request.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/files2tar"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	archivePath := flag.String("archive", "", "staging tar archive path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("files2tar: load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})

	if *archivePath == "" {
		logger.Error("files2tar: --archive is required")
		os.Exit(1)
	}

	w := files2tar.New(*archivePath)
	opts := worker.Options{WaitOnStartup: true}
	if err := worker.Run("files2tar", w.Handlers(), opts); err != nil {
		logger.Error("files2tar worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
