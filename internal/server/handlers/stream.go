package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// StreamMessage is one frame sent to error stream clients.
type StreamMessage struct {
	Type      string      `json:"type"` // "error" or "view"
	Kind      string      `json:"kind"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// StreamHandler pushes a kind's errors and view changes over websockets.
type StreamHandler struct {
	extensions *ExtensionsHandler
	upgrader   websocket.Upgrader
	logger     hclog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(extensions *ExtensionsHandler, logger hclog.Logger) *StreamHandler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &StreamHandler{
		extensions: extensions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("stream"),
	}
}

// HandleErrors upgrades the request and streams until the client leaves.
func (h *StreamHandler) HandleErrors(c *gin.Context) {
	rt, ok := h.extensions.runtime(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	errs, unsubscribeErrors := rt.Errors()
	defer unsubscribeErrors()

	views := make(chan pluginmodule.View, 8)
	unsubscribeViews := rt.Subscribe(func(v pluginmodule.View) {
		select {
		case views <- v:
		default:
		}
	})
	defer unsubscribeViews()

	// Client frames are ignored; a read error means it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	kind := string(rt.Kind())
	send := func(typ string, data interface{}) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(StreamMessage{Type: typ, Kind: kind, Data: data, Timestamp: time.Now().Unix()})
		return err == nil
	}

	h.logger.Debug("error stream opened", "kind", kind, "remote", c.ClientIP())
	if !send("view", rt.View()) {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case ev, ok := <-errs:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "runtime closed"),
					time.Now().Add(writeWait))
				return
			}
			if !send("error", ev) {
				return
			}
		case v := <-views:
			if !send("view", v) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
