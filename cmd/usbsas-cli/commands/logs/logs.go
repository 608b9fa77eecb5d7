// Package logs implements `usbsas-cli logs`: displaying and optionally
// following the usbsas-server log file named by the shared configuration's
// logging.output.
package logs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/usbsas/pkg/config"
)

var (
	logsConfig string
	logsFollow bool
	logsLines  int
)

// Cmd tails the server's log file. Only works when logging.output is a
// file path; a server logging to stdout/stderr has nothing to tail.
var Cmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail the usbsas-server log file",
	Long: `Display and optionally follow the usbsas-server logs.

Reads the log file named by logging.output in the shared configuration.
If the server logs to stdout or stderr, this command reports that and
exits.

Examples:
  # Show the last 100 lines
  usbsas-cli logs

  # Follow new entries
  usbsas-cli logs -f -n 20`,
	RunE: runLogs,
}

func init() {
	Cmd.Flags().StringVar(&logsConfig, "config", "", "path to usbsas config file")
	Cmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	Cmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "number of lines to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(logsConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOutput := cfg.Logging.Output
	if logOutput == "" || logOutput == "stdout" || logOutput == "stderr" {
		return fmt.Errorf("server logs to %s, not a file; set logging.output to a file path to use this command", logOutput)
	}
	if _, err := os.Stat(logOutput); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s", logOutput)
	}

	if logsFollow {
		return followLogs(logOutput, logsLines)
	}
	return showLogs(logOutput, logsLines)
}

// showLogs displays the last n lines of the log file.
func showLogs(logFile string, n int) error {
	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}

	start := 0
	if len(lines) > n {
		start = len(lines) - n
	}
	for _, line := range lines[start:] {
		fmt.Println(line)
	}
	return nil
}

// followLogs prints the last n lines, then watches the file and prints new
// entries until interrupted.
func followLogs(logFile string, n int) error {
	if err := showLogs(logFile, n); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(logFile); err != nil {
		return fmt.Errorf("watch log file: %w", err)
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReader(file)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)...\n", logFile)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						break
					}
					fmt.Print(line)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}
