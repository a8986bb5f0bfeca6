package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/internal/broker"
	"github.com/m0nds/teamflow-pro/internal/server/middleware"
	"github.com/m0nds/teamflow-pro/pkg/state"
	"github.com/m0nds/teamflow-pro/pkg/transport"
)

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// handleProbe warms the broker up without opening a connection.
func (a *App) handleProbe(w http.ResponseWriter, r *http.Request) {
	if _, err := a.locator.Ensure(r.Context()); err != nil {
		a.logger.Error("Broker bootstrap failed", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "Realtime broker unavailable")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	b, err := a.locator.Ensure(r.Context())
	if err != nil {
		connLogger.Error("Broker bootstrap failed", slog.Any("error", err))
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     a.config.Transport.AllowedOrigins,
		InsecureSkipVerify: len(a.config.Transport.AllowedOrigins) == 0,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout:     a.config.Transport.ReadTimeout,
			PingInterval:    a.config.Transport.PingInterval,
			PingTimeout:     a.config.Transport.PingTimeout,
			SendBuffer:      a.config.Transport.SendBuffer,
			MaxMessageBytes: a.config.Transport.MaxMessageBytes,
		},
		nil,
		nil,
		a.logger,
	)

	info := state.ConnInfo{
		IPAddress: reqMeta.IP,
		UserID:    reqMeta.UserID,
		Owner:     state.OwnerKey(reqMeta.UserID, reqMeta.IP),
	}
	if err := a.router.HandleConnect(r.Context(), b, conn, info); err != nil {
		connLogger.Error("Failed to attach connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.SetOnMessageHandler(func(ctx context.Context, id uuid.UUID, msg []byte) {
		if err := a.router.HandleMessage(ctx, b, id, msg); err != nil && !errors.Is(err, context.Canceled) {
			connLogger.Warn("Dropped inbound frame", slog.String("connID", id.String()), slog.Any("error", err))
		}
	})
	conn.SetOnCloseHandler(func(id uuid.UUID, reason error) {
		connLogger.Info("Purging connection", slog.String("connID", id.String()), slog.Any("reason", reason))
		if err := a.router.HandleDisconnect(context.Background(), b, id); err != nil && !errors.Is(err, broker.ErrStopped) {
			connLogger.Error("Failed to purge connection", slog.Any("error", err))
		}
	})

	connLogger.Info("Connection established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}
