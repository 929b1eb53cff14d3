package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/sdelcore/droidcode/internal/assembly"
	"github.com/sdelcore/droidcode/internal/client"
	"github.com/sdelcore/droidcode/internal/config"
	"github.com/sdelcore/droidcode/internal/processor"
	"github.com/sdelcore/droidcode/internal/transport"
	"github.com/sdelcore/droidcode/pkg/wire"
)

type tailFlags struct {
	configPath string
	server     string
	session    string
	transport  string
	logLevel   string
}

func newTailCmd() *cobra.Command {
	flags := &tailFlags{}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a session's event stream and print reconstructed messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if flags.server != "" {
				cfg.ServerURL = flags.server
			}
			if flags.session != "" {
				cfg.SessionID = flags.session
			}
			if flags.transport != "" {
				cfg.Transport = flags.transport
			}
			if flags.logLevel != "" {
				cfg.LogLevel = flags.logLevel
			}
			if cfg.SessionID == "" {
				return fmt.Errorf("no session id: pass --session or set session_id in the config file")
			}

			logger := setupLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runTail(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&flags.server, "server", "", "agent server base URL")
	cmd.Flags().StringVar(&flags.session, "session", "", "session id to follow")
	cmd.Flags().StringVar(&flags.transport, "transport", "", "stream transport: sse or websocket")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

func runTail(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var reader client.StreamReader
	switch cfg.Transport {
	case config.TransportWebsocket:
		reader = transport.NewWSReader(websocket.DefaultDialer)
	default:
		reader = transport.NewSSEReader(http.DefaultClient)
	}

	sub := client.New(client.Config{
		ServerURL:      cfg.ServerURL,
		SessionID:      cfg.SessionID,
		Queue:          cfg.QueueSettings(),
		Reader:         reader,
		Logger:         logger,
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
	})

	recv := sub.Updates().Subscribe(64)
	if err := sub.Start(ctx); err != nil {
		return err
	}
	defer sub.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-recv.C:
			if !ok {
				return nil
			}
			printUpdate(up)
		}
	}
}

func printUpdate(up client.Update) {
	switch up.Kind {
	case client.UpdateMessage:
		fmt.Printf("[%s streaming] %s\n", up.Message.Role, renderParts(up))
	case client.UpdateMessageComplete:
		fmt.Printf("[%s] %s\n", up.Message.Role, renderParts(up))
	case client.UpdateSessionEvent:
		fmt.Printf("[event %s] %s\n", up.Event.Type, renderEvent(up.Event))
	case client.UpdateConnection:
		fmt.Printf("[connection] %s\n", up.Connection.Status)
	}
}

func renderParts(up client.Update) string {
	var b strings.Builder
	for i, part := range up.Message.Parts {
		if i > 0 {
			b.WriteString(" | ")
		}
		switch part.Type {
		case assembly.PartText:
			b.WriteString(part.Content)
		case assembly.PartThinking:
			b.WriteString("(thinking) " + part.Content)
		case assembly.PartTool:
			fmt.Fprintf(&b, "tool %s [%s]", part.ToolName, part.Status)
		case assembly.PartFile:
			fmt.Fprintf(&b, "file %s (%s)", part.URL, part.Mime)
		}
	}
	return b.String()
}

func renderEvent(ev processor.SessionEvent) string {
	switch p := ev.Payload.(type) {
	case *wire.SessionStatus:
		return p.Status
	case *wire.TodoUpdated:
		items := make([]string, 0, len(p.Todos))
		for _, t := range p.Todos {
			items = append(items, fmt.Sprintf("%s (%s)", t.Content, t.Status))
		}
		return strings.Join(items, ", ")
	case *wire.PermissionRequested:
		return fmt.Sprintf("permission %s: %s", p.PermissionID, p.Title)
	case *wire.SessionDiffUpdated:
		files := make([]string, 0, len(p.Files))
		for _, f := range p.Files {
			files = append(files, fmt.Sprintf("%s +%d -%d", f.Path, f.Additions, f.Deletions))
		}
		return strings.Join(files, ", ")
	case *wire.ErrorPayload:
		return p.Message
	default:
		raw, _ := json.Marshal(ev.Payload)
		return string(raw)
	}
}
