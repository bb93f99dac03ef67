package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/brianly1003/msgr/internal/server/peer"
)

var (
	peerHost        string
	peerPort        int
	peerPath        string
	peerMinInterval time.Duration
	peerMaxInterval time.Duration
	peerShowQR      bool
)

// peerCmd runs only the broadcast peer.
var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run a standalone broadcast peer",
	Long: `Run only the broadcast peer. It answers pings and pushes a synthetic
chat event to every connected client at random intervals.

Useful to run the peer and the client in separate processes, e.g. to kill
the peer and watch the client reconnect.

Example:
  msgr peer
  msgr peer --port 9080 --qr
  msgr peer --min-interval 100ms --max-interval 500ms`,
	RunE: runPeer,
}

func init() {
	peerCmd.Flags().StringVar(&peerHost, "host", "", "bind address (default: server.host)")
	peerCmd.Flags().IntVar(&peerPort, "port", 0, "listen port (default: server.websocket_port)")
	peerCmd.Flags().StringVar(&peerPath, "path", "", "WebSocket path (default: server.path)")
	peerCmd.Flags().DurationVar(&peerMinInterval, "min-interval", 0, "minimum time between events")
	peerCmd.Flags().DurationVar(&peerMaxInterval, "max-interval", 0, "maximum time between events")
	peerCmd.Flags().BoolVar(&peerShowQR, "qr", false, "print the peer URL as a QR code")
}

func runPeer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg)

	host, port, path := cfg.Server.Host, cfg.Server.WebSocketPort, cfg.Server.Path
	if peerHost != "" {
		host = peerHost
	}
	if peerPort != 0 {
		port = peerPort
	}
	if peerPath != "" {
		path = peerPath
	}
	minInterval, maxInterval := cfg.Peer.BroadcastMinInterval, cfg.Peer.BroadcastMaxInterval
	if peerMinInterval > 0 {
		minInterval = peerMinInterval
	}
	if peerMaxInterval > 0 {
		maxInterval = peerMaxInterval
	}

	source := peer.NewRandomSource(nil, minInterval, maxInterval, nil)
	server := peer.NewServer(host, port, path, source)
	if err := server.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Peer listening on %s\n", server.URL())
	if peerShowQR {
		qr, err := qrcode.New(server.URL(), qrcode.Medium)
		if err != nil {
			return fmt.Errorf("failed to render QR code: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), qr.ToSmallString(false))
	}

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping peer")
	}
	return nil
}
