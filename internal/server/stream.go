package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleEventStream streams the caller's ledger events as server-sent events until
// the client disconnects. Events published while no stream is open are not replayed.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	account := callerAccount(c)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, account)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Render(-1, heartbeatEvent(time.Now().UTC()))
	c.Writer.Flush()

	h.logger.Debug("event stream opened", zap.String("account", account.String()))
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{
				Id:    message.ID,
				Event: message.EventType,
				Data:  newRealtimeEventPayload(message),
			})
			return true
		case tick := <-ticker.C:
			c.Render(-1, heartbeatEvent(tick.UTC()))
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("account", account.String()))
}

func heartbeatEvent(now time.Time) sse.Event {
	return sse.Event{
		Event: realtimeEventHeartbeat,
		Data: realtimeEventPayload{
			Type:      realtimeEventHeartbeat,
			Timestamp: now.Format(time.RFC3339),
			Source:    realtimeSourceBackend,
		},
	}
}

func newRealtimeEventPayload(message RealtimeMessage) realtimeEventPayload {
	return realtimeEventPayload{
		EventID:    message.ID,
		Type:       message.EventType,
		ForumID:    message.ForumID,
		QuestionID: message.QuestionID,
		AnswerID:   message.AnswerID,
		Actor:      message.Actor.String(),
		Amount:     message.Amount,
		Timestamp:  message.Timestamp.UTC().Format(time.RFC3339),
		Source:     realtimeSourceBackend,
	}
}
