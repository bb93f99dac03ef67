package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brianly1003/msgr/internal/app"
	"github.com/brianly1003/msgr/internal/config"
)

var (
	serveHost        string
	serveWSPort      int
	serveHTTPPort    int
	serveNoPeer      bool
	serveClientURL   string
	serveDriver      string
	serveSeedChats   int
	serveWatchConfig bool
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the peer, the client and the operator API",
	Long: `Run msgr: the local broadcast peer, the client connected to it, the
message store and the operator API.

The client connects to client.url. When that is unset it connects to the
local peer.

Example:
  msgr serve
  msgr serve --ws-port 9080 --http-port 9081
  msgr serve --no-peer --client-url ws://10.0.0.5:8080/
  msgr serve --driver pebble --seed 20
  msgr serve --watch-config            # reload logging.level on change`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address for the peer and the API")
	serveCmd.Flags().IntVar(&serveWSPort, "ws-port", 0, "broadcast peer port (default: 8080)")
	serveCmd.Flags().IntVar(&serveHTTPPort, "http-port", 0, "operator API port (default: 8081)")
	serveCmd.Flags().BoolVar(&serveNoPeer, "no-peer", false, "do not start the local broadcast peer")
	serveCmd.Flags().StringVar(&serveClientURL, "client-url", "", "ws:// URL the client connects to")
	serveCmd.Flags().StringVar(&serveDriver, "driver", "", "storage driver: sqlite or pebble")
	serveCmd.Flags().IntVar(&serveSeedChats, "seed", -1, "seed an empty store with this many demo chats")
	serveCmd.Flags().BoolVar(&serveWatchConfig, "watch-config", false, "watch the config file and reload the log level")
}

// applyServeFlags copies set flags onto v so they win over file and env.
func applyServeFlags(v *viper.Viper) {
	if serveHost != "" {
		v.Set("server.host", serveHost)
	}
	if serveWSPort != 0 {
		v.Set("server.websocket_port", serveWSPort)
	}
	if serveHTTPPort != 0 {
		v.Set("server.http_port", serveHTTPPort)
	}
	if serveNoPeer {
		v.Set("peer.enabled", false)
	}
	if serveClientURL != "" {
		v.Set("client.url", serveClientURL)
	}
	if serveDriver != "" {
		v.Set("storage.driver", serveDriver)
	}
	if serveSeedChats >= 0 {
		v.Set("storage.seed_chats", serveSeedChats)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyServeFlags(v)

	cfg, err := config.Decode(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("client_url", cfg.Client.URL).
		Bool("peer", cfg.Peer.Enabled).
		Int("websocket_port", cfg.Server.WebSocketPort).
		Int("http_port", cfg.Server.HTTPPort).
		Str("storage", cfg.Storage.Driver).
		Msg("starting msgr")

	if serveWatchConfig {
		watchConfig(v)
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("msgr stopped")
	return nil
}

// watchConfig reloads the log level when the config file changes. Other
// settings take effect on restart.
func watchConfig(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		log.Warn().Msg("no config file in use, --watch-config ignored")
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := config.Decode(v)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("config change ignored")
			return
		}
		lvl := applyLogLevel(cfg.Logging.Level)
		log.Info().Str("file", e.Name).Str("level", lvl.String()).Msg("config reloaded")
	})
	v.WatchConfig()
	log.Info().Str("file", v.ConfigFileUsed()).Msg("watching config file")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
