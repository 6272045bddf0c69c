package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/betbot/nftmarket/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 只读事件流，不区分来源
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents GET /v1/events[?asset_id=..&kind=..] 升级为 websocket，推送结算事件。
// 订阅者消费太慢时事件会被丢弃，客户端应在重连后用查询接口对账。
func (s *Server) handleEvents(c *gin.Context) {
	if s.hub == nil {
		writeError(c, http.StatusNotImplemented, "unsupported", "event stream disabled")
		return
	}
	assetFilter := strings.TrimSpace(c.Query("asset_id"))
	kindFilter := events.Kind(strings.TrimSpace(c.Query("kind")))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, cancel := s.hub.Subscribe(wsBuffer)
	defer cancel()

	// 读循环只处理 pong/close，连接断开时通知写循环退出
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.WithError(err).Debug("event stream closed")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if assetFilter != "" && ev.AssetID != assetFilter {
				continue
			}
			if kindFilter != "" && ev.Kind != kindFilter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Debug("event stream write failed")
				return
			}
		}
	}
}
