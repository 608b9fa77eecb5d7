// Command usbsas-cmdexec is the cmdexec worker binary: it runs the
// configured external command against the staging archive, for the Cmd
// destination branch of UploadOrCmd and for the optional post-copy hook.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/cmdexec"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	archivePath := flag.String("archive", "", "staging tar archive path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("cmdexec: load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})

	w := cmdexec.New(cfg.Command, cfg.PostCopy, *archivePath)
	if err := worker.Run("cmdexec", w.Handlers(), worker.Options{}); err != nil {
		logger.Error("cmdexec worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
