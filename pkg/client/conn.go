package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
)

// Handler receives every decoded server event.
type Handler func(protocol.Outbound)

// Conn is one socket connection to the broker. A reconnect is a new Conn and
// must re-issue every join it needs.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
}

// Dial opens the socket at url (ws:// or wss://). An empty token dials
// anonymously.
func Dial(ctx context.Context, url, token string, logger *slog.Logger) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &Conn{ws: ws, logger: logger}, nil
}

func (c *Conn) emit(ctx context.Context, ev protocol.Inbound) error {
	raw, err := protocol.EncodeInbound(ev)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, raw)
}

func (c *Conn) JoinProject(ctx context.Context, projectID string) error {
	return c.emit(ctx, protocol.JoinProject{ProjectID: projectID})
}

func (c *Conn) LeaveProject(ctx context.Context, projectID string) error {
	return c.emit(ctx, protocol.LeaveProject{ProjectID: projectID})
}

func (c *Conn) JoinNotifications(ctx context.Context, userID string) error {
	return c.emit(ctx, protocol.JoinNotifications{UserID: userID})
}

func (c *Conn) ChangeTaskStatus(ctx context.Context, taskID string, status protocol.TaskStatus, projectID string) error {
	return c.emit(ctx, protocol.TaskStatusChange{TaskID: taskID, Status: status, ProjectID: projectID})
}

// Run reads frames until the connection closes or ctx is done, handing each
// decoded event to every handler in order. Undecodable frames are logged and
// skipped. A normal close returns nil.
func (c *Conn) Run(ctx context.Context, handlers ...Handler) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		ev, err := protocol.DecodeOutbound(data)
		if err != nil {
			c.logger.Warn("Skipping undecodable frame", slog.Any("error", err))
			continue
		}
		for _, h := range handlers {
			h(ev)
		}
	}
}

func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
