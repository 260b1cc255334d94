package sse

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// DefaultBuffer 每个订阅者的事件缓冲
const DefaultBuffer = 16

// Event SSE 事件
type Event struct {
	Type string `json:"type"` // 事件类型
	Data any    `json:"data"` // 事件数据
}

// Format 格式化为 SSE 消息格式
func (e Event) Format() string {
	data, err := json.Marshal(e.Data)
	if err != nil {
		data = []byte("null")
	}
	return "event: " + e.Type + "\ndata: " + string(data) + "\n\n"
}

// Subscriber 订阅某个主题的一条连接
type Subscriber struct {
	ID     string
	Topic  string
	events chan Event
}

// Events 返回事件通道，主题关闭或取消订阅后通道关闭
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Hub 按主题管理订阅者
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
	buffer int
	closed bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		topics: make(map[string]map[*Subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe 订阅主题。Hub 已关闭时返回的订阅者通道直接关闭
func (h *Hub) Subscribe(topic string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		Topic:  topic,
		events: make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.events)
		return sub
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscriber]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	return sub
}

// Unsubscribe 注销订阅者，可重复调用
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[sub.Topic]
	if !ok {
		return
	}
	if _, exists := subs[sub]; !exists {
		return
	}
	delete(subs, sub)
	close(sub.events)
	if len(subs) == 0 {
		delete(h.topics, sub.Topic)
	}
}

// Publish 向主题的所有订阅者投递事件，返回成功投递的数量。
// 缓冲区满的订阅者会丢失该事件
func (h *Hub) Publish(topic string, event Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.topics[topic] {
		select {
		case sub.events <- event:
			delivered++
		default:
		}
	}
	return delivered
}

// CloseTopic 关闭主题下的全部订阅者
func (h *Hub) CloseTopic(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeTopicLocked(topic)
}

func (h *Hub) closeTopicLocked(topic string) {
	for sub := range h.topics[topic] {
		close(sub.events)
	}
	delete(h.topics, topic)
}

// Close 关闭所有主题，之后的订阅立即结束
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range h.topics {
		h.closeTopicLocked(topic)
	}
	h.closed = true
}

// Subscribers 获取订阅指定主题的数量
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
