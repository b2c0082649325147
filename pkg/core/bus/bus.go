// Package bus 基于 watermill 的进程内消息总线，用于解耦启动请求与执行方
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/LENAX/flow-control/pkg/core/types"
	"github.com/LENAX/flow-control/pkg/logging"
)

// Handler 事件处理函数；返回的错误只记录日志，不会触发重投
type Handler func(ctx context.Context, ev *types.Event) error

// Bus 消息总线（对外导出）
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	running bool
	closed  bool
}

// New 创建总线
func New(logger watermill.LoggerAdapter) (*Bus, error) {
	logger = logging.OrNop(logger)

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("创建消息路由器失败: %w", err)
	}

	return &Bus{pubsub: pubsub, router: router, logger: logger}, nil
}

// Publish 发布事件到以事件类型命名的主题
func (b *Bus) Publish(ev *types.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := message.NewMessage(ev.ID, payload)
	msg.Metadata.Set("event_type", string(ev.Type))
	msg.Metadata.Set("source", ev.Source)
	msg.Metadata.Set("timestamp", ev.Timestamp.Format(time.RFC3339Nano))
	if ev.CorrelationID != "" {
		msg.Metadata.Set("correlation_id", ev.CorrelationID)
	}

	if err := b.pubsub.Publish(string(ev.Type), msg); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// PublishPayload 构造并发布事件
func (b *Bus) PublishPayload(eventType types.EventType, source string, payload interface{}) (*types.Event, error) {
	ev, err := types.NewEvent(eventType, source, payload)
	if err != nil {
		return nil, err
	}
	return ev, b.Publish(ev)
}

// Handle 注册路由处理器，必须在 Run 之前调用
func (b *Bus) Handle(name string, topic types.EventType, h Handler) {
	b.router.AddNoPublisherHandler(name, string(topic), b.pubsub, func(msg *message.Message) error {
		var ev types.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			b.logger.Error("丢弃无法解析的消息", err, watermill.LogFields{"handler": name, "message_uuid": msg.UUID})
			return nil
		}
		if err := h(msg.Context(), &ev); err != nil {
			b.logger.Error("事件处理失败", err, watermill.LogFields{"handler": name, "event_id": ev.ID, "type": string(ev.Type)})
		}
		return nil
	})
}

// Run 后台启动路由器并等待其就绪
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running || b.closed {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	go func() {
		if err := b.router.Run(ctx); err != nil {
			b.logger.Error("消息路由器退出", err, nil)
		}
	}()

	select {
	case <-b.router.Running():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe 直接订阅主题，返回的通道在 ctx 结束或总线关闭时关闭
// 用于事件流这类动态、短生命周期的订阅者
func (b *Bus) Subscribe(ctx context.Context, topics ...types.EventType) (<-chan *types.Event, error) {
	out := make(chan *types.Event, 64)
	var wg sync.WaitGroup
	for _, topic := range topics {
		messages, err := b.pubsub.Subscribe(ctx, string(topic))
		if err != nil {
			return nil, fmt.Errorf("订阅主题 %s 失败: %w", topic, err)
		}
		wg.Add(1)
		go func(messages <-chan *message.Message) {
			defer wg.Done()
			for msg := range messages {
				var ev types.Event
				err := json.Unmarshal(msg.Payload, &ev)
				msg.Ack()
				if err != nil {
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
				}
			}
		}(messages)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Close 关闭路由器与底层 pub/sub
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	running := b.running
	b.mu.Unlock()

	var firstErr error
	if running {
		if err := b.router.Close(); err != nil {
			firstErr = err
		}
	}
	if err := b.pubsub.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
