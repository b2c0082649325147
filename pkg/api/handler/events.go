package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/engine"
	"github.com/LENAX/flow-control/pkg/core/types"
	"github.com/LENAX/flow-control/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// 未指定 topics 时推送的主题
var defaultStreamTopics = []types.EventType{
	types.EventWorkflowLifecycle,
	types.EventWorkflowStarted,
	types.EventWorkflowReady,
	types.EventSecurity,
	types.EventConfigChanged,
}

// EventHandler 总线事件的 websocket 推送
type EventHandler struct {
	cp       *engine.ControlPlane
	logger   watermill.LoggerAdapter
	upgrader websocket.Upgrader
}

// NewEventHandler 创建EventHandler
func NewEventHandler(cp *engine.ControlPlane, logger watermill.LoggerAdapter) *EventHandler {
	return &EventHandler{
		cp:     cp,
		logger: logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Stream 订阅总线主题并以JSON文本帧推送事件信封
// GET /api/v1/events/stream?topics=workflow.lifecycle,security.event
func (h *EventHandler) Stream(c *gin.Context) {
	topics := parseTopics(c.Query("topics"))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.cp.Bus().Subscribe(ctx, topics...)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, "订阅事件失败: "+err.Error()))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回错误响应
		h.logger.Debug("websocket升级失败", watermill.LogFields{"error": err.Error()})
		return
	}
	defer conn.Close()

	fields := watermill.LogFields{"client_ip": c.ClientIP(), "topics": topics}
	h.logger.Info("事件流已连接", fields)
	defer h.logger.Info("事件流已断开", fields)

	// 读循环只处理控制帧，客户端关闭连接时结束推送
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func parseTopics(raw string) []types.EventType {
	if strings.TrimSpace(raw) == "" {
		return defaultStreamTopics
	}
	var topics []types.EventType
	seen := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		topics = append(topics, types.EventType(t))
	}
	if len(topics) == 0 {
		return defaultStreamTopics
	}
	return topics
}
