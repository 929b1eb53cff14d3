// Command droidcode is the DroidCode client core CLI.
//
// Commands:
//   - tail: follow a session's event stream and print reconstructed messages
//   - demo: run tail against an in-process scripted agent server
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "droidcode",
		Short: "Client core for the DroidCode agent app",
		Long: `droidcode connects to a remote agent server, consumes its event
stream, and reconstructs streaming messages from it.

Use 'tail' against a live server, or 'demo' to watch a canned
conversation replayed by the built-in devserver.`,
	}

	rootCmd.AddCommand(newTailCmd())
	rootCmd.AddCommand(newDemoCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger
}
