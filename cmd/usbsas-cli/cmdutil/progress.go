package cmdutil

import (
	"fmt"
	"os"

	"github.com/marmos91/usbsas/pkg/apiclient"
)

// DrainProgress prints one line per message on ch until the stream closes,
// returning an error if the operation ended in fatal_error. Every
// copy/wipe/imgdisk subcommand shares this since the wire shape is
// identical across the three.
func DrainProgress(ch <-chan apiclient.ProgressMessage) error {
	for msg := range ch {
		switch msg.Status {
		case "fatal_error":
			return fmt.Errorf("operation failed: %s", msg.Msg)
		case "nothing_to_copy":
			fmt.Fprintf(os.Stdout, "nothing to copy (filtered=%d dirty=%d)\n", len(msg.FilteredPath), len(msg.DirtyPath))
		case "copy_not_enough_space":
			fmt.Fprintf(os.Stdout, "not enough space: need %d bytes\n", deref(msg.Size))
		case "final_report":
			fmt.Fprintf(os.Stdout, "done: %d error(s), %d filtered, %d dirty\n", len(msg.ErrorPath), len(msg.FilteredPath), len(msg.DirtyPath))
		default:
			if msg.Progress != nil {
				fmt.Fprintf(os.Stdout, "%-24s %5.1f%%\n", msg.Status, *msg.Progress)
			} else {
				fmt.Fprintf(os.Stdout, "%s\n", msg.Status)
			}
		}
	}
	return nil
}

func deref(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}
