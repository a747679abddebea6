package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Broker fans board events out to connected stream clients. Slow clients
// drop events rather than block the publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan []byte]struct{})}
}

func (b *Broker) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Broadcast hands data to every subscriber with room in its buffer.
func (b *Broker) Broadcast(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// Clients reports the number of connected stream clients.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// SubscribeEvents relays messages from the Redis channel into the broker
// until ctx is cancelled, resubscribing when the channel closes.
func SubscribeEvents(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, b *Broker) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				b.Broadcast([]byte(msg.Payload))
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("event channel closed, resubscribing")
		time.Sleep(time.Second)
	}
}

func streamEvents(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if d.Events == nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "event stream is not configured"})
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
		}
		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		ch := d.Events.subscribe()
		defer d.Events.unsubscribe(ch)

		if _, err := c.Response().Write([]byte(": connected\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case data := <-ch:
				if _, err := c.Response().Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
					d.Logger.WithError(err).Debug("stream client gone")
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
