// Command usbsas-identificator is the identificator worker binary: it
// reports the OS user identity the front-end process runs as, spawned and
// torn down once per session by the orchestrator.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/identificator"
)

func main() {
	logLevel := flag.String("log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	_ = logger.Init(logger.Config{Level: *logLevel, Format: "text", Output: "stderr"})

	w := identificator.New()
	if err := worker.Run("identificator", w.Handlers(), worker.Options{}); err != nil {
		logger.Error("identificator worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
