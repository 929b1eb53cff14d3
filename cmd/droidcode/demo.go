package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdelcore/droidcode/internal/config"
	"github.com/sdelcore/droidcode/internal/devserver"
)

func newDemoCmd() *cobra.Command {
	var (
		transportName string
		logLevel      string
		intervalMs    int
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Replay a canned conversation through the built-in devserver",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(logLevel)

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}
			defer ln.Close()

			const sessionID = "demo-session"
			srv := devserver.New(logger, time.Duration(intervalMs)*time.Millisecond)
			srv.SetScript(sessionID, devserver.DemoScript(sessionID))

			httpSrv := &http.Server{Handler: srv.Handler()}
			go func() {
				if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("devserver stopped", "error", err)
				}
			}()
			defer httpSrv.Close()

			cfg := config.Default()
			cfg.ServerURL = fmt.Sprintf("http://%s", ln.Addr())
			cfg.SessionID = sessionID
			cfg.LogLevel = logLevel
			if transportName != "" {
				cfg.Transport = transportName
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runTail(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&transportName, "transport", "", "stream transport: sse or websocket")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().IntVar(&intervalMs, "interval", 40, "milliseconds between scripted events")

	return cmd
}
