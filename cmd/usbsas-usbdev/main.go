// Command usbsas-usbdev is the usbdev worker binary: it enumerates attached
// USB mass-storage devices via sysfs.
package main

import (
	"flag"
	"os"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/usbdev"
)

func main() {
	sysfsRoot := flag.String("sysfs-root", "/sys/bus/usb/devices", "sysfs USB device tree root")
	blockRoot := flag.String("block-root", "/sys/block", "sysfs block device tree root")
	logLevel := flag.String("log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	_ = logger.Init(logger.Config{Level: *logLevel, Format: "text", Output: "stderr"})

	lister := usbdev.SysfsLister{Root: *sysfsRoot, BlockRoot: *blockRoot}
	w := usbdev.New(lister)
	if err := worker.Run("usbdev", w.Handlers(), worker.Options{}); err != nil {
		logger.Error("usbdev worker exited with error", logger.Err(err))
		os.Exit(1)
	}
}
