package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultKeepAlive 心跳间隔
const DefaultKeepAlive = 15 * time.Second

// Serve 把订阅者的事件写成 SSE 流，直到客户端断开或订阅关闭。
// initial 非 nil 时先发送一次
func Serve(c *gin.Context, hub *Hub, sub *Subscriber, keepAlive time.Duration, initial *Event) {
	defer hub.Unsubscribe(sub)

	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if initial != nil {
		if _, err := fmt.Fprint(c.Writer, initial.Format()); err != nil {
			return
		}
	}
	c.Writer.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if _, err := fmt.Fprint(c.Writer, event.Format()); err != nil {
				return
			}
			c.Writer.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
