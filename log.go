package main

import (
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
)

// setupLog sets up logging to a file when PARLEY_LOGFILE is set,
// otherwise discards log output so it never corrupts the TUI.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)
	log.SetTimeFormat(time.Kitchen)

	if logFile := os.Getenv("PARLEY_LOGFILE"); logFile != "" {
		f, err := tea.LogToFile(logFile, "parley")
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		log.SetOutput(f)
		log.SetLevel(log.DebugLevel)
		return f.Close, nil
	}

	return func() error { return nil }, nil
}
