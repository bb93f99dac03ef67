package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/brianly1003/msgr/internal/config"
)

var (
	listenAPIAddr string
	listenChats   []string
	listenRaw     bool
)

// listenCmd streams events from a running msgr.
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print live events from a running msgr",
	Long: `Connect to the event stream of a running "msgr serve" and print every
event: stored chat messages, rejected frames, read markers, connection
state changes and simulated drops.

Example:
  msgr listen
  msgr listen --chats chat_1,chat_7
  msgr listen --api 127.0.0.1:9081 --raw`,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringVar(&listenAPIAddr, "api", "", "operator API address (default: server.host:server.http_port)")
	listenCmd.Flags().StringSliceVar(&listenChats, "chats", nil, "only show events for these chats")
	listenCmd.Flags().BoolVar(&listenRaw, "raw", false, "print events as raw JSON")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg)

	u := eventsURL(cfg, listenAPIAddr, listenChats)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	defer conn.Close()

	log.Info().Str("url", u).Msg("listening for events")

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	out := cmd.OutOrStdout()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		printEvent(out, data, listenRaw)
	}
}

// eventsURL builds the /events URL of the operator API.
func eventsURL(cfg *config.Config, apiAddr string, chats []string) string {
	if apiAddr == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		apiAddr = fmt.Sprintf("%s:%d", host, cfg.Server.HTTPPort)
	}
	u := url.URL{Scheme: "ws", Host: apiAddr, Path: "/events"}
	if len(chats) > 0 {
		u.RawQuery = url.Values{"chats": {strings.Join(chats, ",")}}.Encode()
	}
	return u.String()
}

type listenedEvent struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	ChatID    string          `json:"chat_id"`
	Payload   json.RawMessage `json:"payload"`
}

func printEvent(out io.Writer, data []byte, raw bool) {
	if raw {
		fmt.Fprintln(out, string(data))
		return
	}

	var ev listenedEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Event == "" {
		fmt.Fprintln(out, string(data))
		return
	}

	switch ev.Event {
	case "chat_message":
		var p struct {
			Sender string `json:"sender"`
			Body   string `json:"body"`
		}
		_ = json.Unmarshal(ev.Payload, &p)
		fmt.Fprintf(out, "%s [%s] %s: %s\n", ev.Timestamp, ev.ChatID, p.Sender, p.Body)
	case "connection_state":
		var p struct {
			State    string `json:"state"`
			Attempts int    `json:"reconnect_attempts"`
		}
		_ = json.Unmarshal(ev.Payload, &p)
		fmt.Fprintf(out, "%s connection %s (attempts %d)\n", ev.Timestamp, p.State, p.Attempts)
	default:
		fmt.Fprintf(out, "%s %s %s\n", ev.Timestamp, ev.Event, string(ev.Payload))
	}
}
