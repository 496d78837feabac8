package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Update kinds carried on the event stream.
const (
	UpdateTasks  = "tasks"
	UpdateAdvice = "advice"
)

const streamKeepAlive = 25 * time.Second

// Notifier announces that the board or the advice changed.
type Notifier interface {
	Notify(ctx context.Context, kind string)
}

// Broker fans updates out to the stream subscribers of this process.
type Broker struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan string]struct{})}
}

func (b *Broker) subscribe() chan string {
	ch := make(chan string, 4)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan string) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Subscribers returns the number of open streams.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Notify never blocks; a subscriber whose buffer is full misses the update.
func (b *Broker) Notify(_ context.Context, kind string) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- kind:
		default:
		}
	}
	b.mu.Unlock()
}

// RedisRelay publishes updates on a Redis channel and replays every update
// heard there to the local broker, so subscribers on all replicas see them.
type RedisRelay struct {
	rc      *redis.Client
	channel string
	local   *Broker
	logger  *log.Logger
}

func NewRedisRelay(rc *redis.Client, projectID string, local *Broker, logger *log.Logger) *RedisRelay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisRelay{rc: rc, channel: "siteplan:updates:" + projectID, local: local, logger: logger}
}

// Notify publishes kind, delivering locally when Redis is unavailable.
func (r *RedisRelay) Notify(ctx context.Context, kind string) {
	if err := r.rc.Publish(ctx, r.channel, kind).Err(); err != nil {
		r.logger.WithError(err).WithField("kind", kind).Warn("update relay publish failed")
		r.local.Notify(ctx, kind)
	}
}

// Run listens until ctx is done, resubscribing when the connection drops.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				switch msg.Payload {
				case UpdateTasks, UpdateAdvice:
					r.local.Notify(ctx, msg.Payload)
				default:
					r.logger.WithField("payload", msg.Payload).Warn("unknown update kind, ignoring")
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("update channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// streamUpdates sends the task list and advice state as server-sent events:
// both once on connect, then again whenever they change.
func streamUpdates(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		w := c.Response()
		flusher, ok := w.Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
		}
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.Header().Set(echo.HeaderCacheControl, "no-cache")
		w.Header().Set(echo.HeaderConnection, "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		ctx := c.Request().Context()
		ch := d.Broker.subscribe()
		defer d.Broker.unsubscribe(ch)

		send := func(kind string) error {
			var payload any
			switch kind {
			case UpdateTasks:
				payload = tasksResponse{Tasks: d.Board.Tasks()}
			case UpdateAdvice:
				payload = d.Advisor.State(ctx)
			default:
				return nil
			}
			data, err := sonic.Marshal(payload)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		sent := 0
		for _, kind := range []string{UpdateTasks, UpdateAdvice} {
			if err := send(kind); err != nil {
				return err
			}
			sent++
		}
		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				metricsFrom(c).SetInt("events_sent", sent)
				return nil
			case kind := <-ch:
				if err := send(kind); err != nil {
					metricsFrom(c).SetErrorStage("stream_write")
					return err
				}
				sent++
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return err
				}
				flusher.Flush()
			}
		}
	}
}
