package handlers

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/eventcrew/eventcrew-backend/config"
	"github.com/eventcrew/eventcrew-backend/internal/inbox"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultStreamPingInterval = 30 * time.Second
	defaultStreamWriteTimeout = 10 * time.Second
)

// Stream message types.
const (
	StreamMessageView    = "view"
	StreamMessagePong    = "pong"
	StreamMessageError   = "error"
	StreamMessagePing    = "ping"
	StreamMessageRefetch = "refetch"
)

// ClientMessage is a message sent by the client over the stream.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is a message sent to the client over the stream.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NotificationStreamHandler pushes inbox views over a WebSocket. While a
// stream is connected the session counts as foreground.
type NotificationStreamHandler struct {
	sessions       SessionManager
	log            *zap.SugaredLogger
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	allowedOrigins []string
	isDevelopment  bool
}

func NewNotificationStreamHandler(sessions SessionManager, serverCfg *config.ServerConfig) *NotificationStreamHandler {
	return &NotificationStreamHandler{
		sessions:       sessions,
		log:            logger.GetLogger().Named("stream_handler"),
		PingInterval:   defaultStreamPingInterval,
		WriteTimeout:   defaultStreamWriteTimeout,
		allowedOrigins: originPatterns(serverCfg.AllowedOrigins),
		isDevelopment:  serverCfg.Environment == config.EnvDevelopment,
	}
}

// originPatterns turns configured origins into the host patterns the
// WebSocket accept check matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

func (h *NotificationStreamHandler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	}
	if h.isDevelopment {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.allowedOrigins
	}
	return opts
}

// HandleStream upgrades the request and streams the caller's inbox: the
// current view first, then every later one.
func (h *NotificationStreamHandler) HandleStream(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}
	userID := sess.RecipientID

	conn, err := websocket.Accept(c.Writer, c.Request, h.acceptOptions())
	if err != nil {
		h.log.Errorw("Failed to accept WebSocket connection", "userID", userID, "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "stream ended") }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	release := sess.AppState.Hold()
	defer release()

	views, err := sess.Store.Watch(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "session closed")
		return
	}

	h.log.Infow("Notification stream connected", "userID", userID)

	errCh := make(chan error, 3)
	go func() { errCh <- h.readLoop(ctx, conn, userID) }()
	go func() { errCh <- h.writeLoop(ctx, conn, views) }()
	go func() { errCh <- h.pingLoop(ctx, conn) }()

	err = <-errCh
	switch {
	case err == nil:
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
	default:
		h.log.Warnw("Notification stream error", "userID", userID, "error", err)
	}
	h.log.Infow("Notification stream disconnected", "userID", userID)
}

func (h *NotificationStreamHandler) readLoop(ctx context.Context, conn *websocket.Conn, userID string) error {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}

		switch msg.Type {
		case StreamMessagePing:
			if err := h.write(ctx, conn, ServerMessage{Type: StreamMessagePong}); err != nil {
				return err
			}
		case StreamMessageRefetch:
			sess, ok := h.sessions.Get(userID)
			if !ok {
				return nil
			}
			// The outcome reaches the client as the next view.
			if err := sess.Store.Refetch(ctx); err != nil {
				h.log.Debugw("Stream refetch failed", "userID", userID, "error", err)
			}
		default:
			if err := h.write(ctx, conn, ServerMessage{
				Type:  StreamMessageError,
				Error: "unknown message type: " + msg.Type,
			}); err != nil {
				return err
			}
		}
	}
}

// writeLoop returns nil once the view channel closes, which happens when the
// session is closed.
func (h *NotificationStreamHandler) writeLoop(ctx context.Context, conn *websocket.Conn, views <-chan inbox.View) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if err := h.write(ctx, conn, ServerMessage{Type: StreamMessageView, Payload: v}); err != nil {
				return err
			}
		}
	}
}

func (h *NotificationStreamHandler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *NotificationStreamHandler) write(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.WriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
