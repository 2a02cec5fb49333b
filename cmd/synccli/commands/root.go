// Package commands provides the synccli commands. Each command attaches to a running
// server's background router the way an extension view or tab would.
package commands

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/channel/runtime"
	"github.com/jrsteele09/go-chat-sync/internal/config"
	"github.com/jrsteele09/go-chat-sync/server"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Global flags
var (
	serverURL string
	peerID    string
	origin    string
	timeout   time.Duration
	logLevel  string
	statePath string
)

var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "synccli",
	Short: "Inspect and drive the session shared by the web app and the extension",
	Long: `synccli connects to a running chat server's sync endpoint as an extension
context. It can show who is signed in, follow session changes, sign in or out
every connected tab, and chat using the shared session.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
		if err != nil {
			level = zerolog.WarnLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(level).With().Timestamp().Logger()
	},
}

func init() {
	cfg := config.New()

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", cfg.GetBaseURL(), "Chat server base URL")
	rootCmd.PersistentFlags().StringVar(&peerID, "id", "synccli-"+uuid.NewString()[:8], "Peer id announced to the background")
	rootCmd.PersistentFlags().StringVar(&origin, "origin", cfg.GetPageOrigin(), "Origin header sent with the sync connection")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for connecting and requests")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", defaultStatePath(cfg), "File keeping the signed-in session between runs")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(signinCmd)
	rootCmd.AddCommand(chatCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// connect attaches to the background router as a peer of the given kind, authenticated
// as the owner of s.
func connect(ctx context.Context, kind channel.PeerKind, s *session.Session) (*runtime.Client, error) {
	if s == nil {
		return nil, errNotSignedIn
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.AccessToken)
	if origin != "" {
		header.Set("Origin", origin)
	}
	return runtime.Dial(dialCtx, runtime.ClientOptions{
		URL:    strings.TrimRight(serverURL, "/") + server.RouteSyncWS,
		Kind:   kind,
		ID:     peerID,
		Header: header,
		Logger: logger,
	})
}
