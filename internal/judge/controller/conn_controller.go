package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"judgehub/internal/common/metrics"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/service"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnConfig tunes worker websocket connections.
type ConnConfig struct {
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// PongWait is how long the peer may stay silent. Pings go out at 9/10 of it.
	PongWait time.Duration
	// MaxMessageSize caps inbound frames in bytes.
	MaxMessageSize int64
	// SendBuffer is the outbound frame queue length.
	SendBuffer int
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 16
	}
	return c
}

// ConnController upgrades worker connections and runs a session per connection.
type ConnController struct {
	dispatcher *service.Dispatcher
	cfg        ConnConfig
	upgrader   websocket.Upgrader
}

// NewConnController creates a connection controller.
func NewConnController(dispatcher *service.Dispatcher, cfg ConnConfig) *ConnController {
	return &ConnController{
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// errorFrame reports a rejected inbound message without closing the connection.
type errorFrame struct {
	Key     string                 `json:"key"`
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Serve handles GET /judge/conn. It blocks until the worker disconnects.
func (h *ConnController) Serve(c *gin.Context) {
	identity := service.Identity{JudgerID: model.SystemJudgerID}
	if p, ok := principalFrom(c); ok {
		identity = p.Identity()
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	conn := &wsConn{
		ws:     ws,
		cfg:    h.cfg,
		send:   make(chan []byte, h.cfg.SendBuffer),
		closed: make(chan struct{}),
	}
	session := h.dispatcher.NewSession(identity, conn)
	inbound := make(chan model.JudgeMessage)

	go conn.writePump(ctx)
	go conn.readPump(ctx, inbound)

	err = session.Run(ctx, inbound)
	cancel()
	conn.close()
	if err != nil && ctx.Err() == nil {
		logger.Warn(ctx, "judge session ended with error", zap.String("conn_id", session.ID()), zap.Error(err))
	}
}

type wsConn struct {
	ws        *websocket.Conn
	cfg       ConnConfig
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// Send queues the task frame for the write pump.
func (c *wsConn) Send(ctx context.Context, msg model.TaskMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeSendFailed, "encode task failed")
	}
	return c.enqueue(ctx, payload)
}

func (c *wsConn) enqueue(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return appErr.New(appErr.JudgeConnectionClosed)
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return appErr.New(appErr.JudgeConnectionClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// readPump decodes worker frames into inbound until the connection fails.
// Malformed frames are answered with an error frame and skipped.
func (c *wsConn) readPump(ctx context.Context, inbound chan<- model.JudgeMessage) {
	defer close(inbound)
	defer c.close()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn(ctx, "judge connection read failed", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			c.reject(ctx, appErr.New(appErr.InvalidJudgeMessage).WithMessage("text frames only"))
			continue
		}
		msg, err := model.DecodeJudgeMessage(data)
		if err != nil {
			metrics.JudgeMessages.WithLabelValues("unknown", "invalid").Inc()
			logger.Warn(ctx, "invalid judge message", zap.Error(err))
			c.reject(ctx, err)
			continue
		}
		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *wsConn) reject(ctx context.Context, err error) {
	e := appErr.GetError(err)
	payload, mErr := json.Marshal(errorFrame{Key: "error", Code: int(e.Code), Message: e.Error(), Details: e.Details})
	if mErr != nil {
		return
	}
	if err := c.enqueue(ctx, payload); err != nil {
		logger.Debug(ctx, "drop error frame", zap.Error(err))
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				logger.Warn(ctx, "judge connection write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) write(mt int, payload []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.ws.WriteMessage(mt, payload)
}
