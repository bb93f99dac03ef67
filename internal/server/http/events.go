package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/domain/commands"
	"github.com/brianly1003/msgr/internal/domain/events"
	"github.com/brianly1003/msgr/internal/hub"
	"github.com/brianly1003/msgr/internal/transport/link"
)

// commandTimeout bounds store calls made on behalf of a socket command.
const commandTimeout = 5 * time.Second

// CommandResponse answers a command sent on the event socket.
type CommandResponse struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	RequestID string `json:"request_id,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Result    any    `json:"result,omitempty"`
}

// linkSubscriber delivers hub events over an event socket link.
type linkSubscriber struct {
	link *link.Link
}

func (s *linkSubscriber) ID() string {
	return s.link.ID()
}

func (s *linkSubscriber) Send(event events.Event) error {
	if s.link.IsClosed() {
		return domain.ErrSubscriberClosed
	}
	data, err := event.ToJSON()
	if err != nil {
		return err
	}
	return s.link.Send(data)
}

func (s *linkSubscriber) Close() error {
	s.link.Close()
	return nil
}

func (s *linkSubscriber) Done() <-chan struct{} {
	return s.link.Done()
}

// handleEvents handles GET /events?chats=chat_1,chat_2
//
// The socket streams hub events, optionally limited to the listed chats,
// and accepts commands (connect, disconnect, simulate_drop, mark_read,
// get_status).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrCodeInternalError, domain.ErrHubNotRunning.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade event socket", "error", err)
		return
	}

	l := link.New(conn, link.Options{
		OnFrame: s.handleCommand,
		OnClose: func(l *link.Link, err error) {
			s.hub.Unsubscribe(l.ID())
			s.logger.Info("event socket closed", "subscriber_id", l.ID(), "error", err)
		},
	})

	filter := hub.NewChatFilter(&linkSubscriber{link: l})
	if chats := r.URL.Query().Get("chats"); chats != "" {
		filter.Follow(strings.Split(chats, ",")...)
	}

	s.hub.Subscribe(filter)
	l.Start()

	s.logger.Info("event socket opened",
		"subscriber_id", l.ID(),
		"remote_addr", conn.RemoteAddr().String(),
		"filtered", filter.IsFiltering(),
	)
}

func (s *Server) handleCommand(l *link.Link, data []byte) {
	cmd, err := commands.ParseCommand(data)
	if err != nil {
		s.reply(l, CommandResponse{Command: "", Error: "invalid command"})
		return
	}

	resp := CommandResponse{Command: string(cmd.Command), RequestID: cmd.RequestID}
	result, err := s.runCommand(cmd)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.OK = true
		resp.Result = result
	}

	s.logger.Debug("event socket command",
		"subscriber_id", l.ID(),
		"command", cmd.Command,
		"ok", resp.OK,
	)
	s.reply(l, resp)
}

func (s *Server) runCommand(cmd *commands.Command) (any, error) {
	switch cmd.Command {
	case commands.CommandConnect:
		if s.conn == nil {
			return nil, domain.ErrNotConnected
		}
		s.conn.Connect()
		return s.connectionStatus(), nil

	case commands.CommandDisconnect:
		if s.conn == nil {
			return nil, domain.ErrNotConnected
		}
		s.conn.Disconnect()
		return s.connectionStatus(), nil

	case commands.CommandSimulateDrop:
		dropped, err := s.dropPeerLinks()
		if err != nil {
			return nil, err
		}
		return DropResponse{Dropped: dropped}, nil

	case commands.CommandMarkRead:
		payload, err := cmd.ParseMarkReadPayload()
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := s.markRead(ctx, payload.ChatID); err != nil {
			return nil, err
		}
		return nil, nil

	case commands.CommandGetStatus:
		return s.connectionStatus(), nil

	default:
		return nil, fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

func (s *Server) reply(l *link.Link, resp CommandResponse) {
	resp.Type = "response"
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode command response", "error", err)
		return
	}
	if err := l.Send(data); err != nil {
		s.logger.Debug("command response not sent", "subscriber_id", l.ID(), "error", err)
	}
}
