package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/logger"

	"github.com/failsafe-go/failsafe-go"
	"github.com/rs/zerolog"
)

// NotificationDispatcher implements ports.NotificationDispatcher. Dispatch
// hands off to a bounded queue; a worker delivers through the Notifier.
type NotificationDispatcher struct {
	notifier ports.Notifier
	timeout  time.Duration
	queue    chan domain.Notification
	metrics  *Metrics
	log      zerolog.Logger

	wg   sync.WaitGroup
	once sync.Once
}

func NewNotificationDispatcher(notifier ports.Notifier, queueSize int, timeout time.Duration, metrics *Metrics, log zerolog.Logger) *NotificationDispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NotificationDispatcher{
		notifier: notifier,
		timeout:  timeout,
		queue:    make(chan domain.Notification, queueSize),
		metrics:  metrics,
		log:      logger.Component(log, "notify"),
	}
}

func (d *NotificationDispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for n := range d.queue {
			d.deliver(n)
		}
	}()
}

// Close delivers what is queued, then stops.
func (d *NotificationDispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *NotificationDispatcher) Dispatch(n domain.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn().Str("event", n.Event).Msg("notify: dispatcher closed, dropped")
		}
	}()
	select {
	case d.queue <- n:
	default:
		d.metrics.ObserveDrop("notifications")
		d.log.Warn().Str("event", n.Event).Msg("notify: queue full, dropped")
	}
}

func (d *NotificationDispatcher) deliver(n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.log.Warn().Err(err).Str("event", n.Event).Str("audience", string(n.Audience)).Msg("notify: delivery failed")
	}
}

// HTTPNotifier POSTs notifications as JSON to a single collaborator endpoint.
type HTTPNotifier struct {
	url      string
	client   HTTPClient
	executor failsafe.Executor[*http.Response]
	log      zerolog.Logger
}

func NewHTTPNotifier(url string, client HTTPClient, retries int, log zerolog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		url:      url,
		client:   client,
		executor: newHTTPExecutor(retryConfig{MaxRetries: retries, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}),
		log:      logger.Component(log, "notify"),
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	resp, err := doHTTP(ctx, n.client, n.executor, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	n.log.Debug().Str("event", msg.Event).Msg("notify: delivered")
	return nil
}

// LogNotifier only logs. Used when no notification endpoint is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.Component(log, "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, msg domain.Notification) error {
	ev := n.log.Info().Str("event", msg.Event).Str("audience", string(msg.Audience))
	if msg.UserID != nil {
		ev = ev.Str("user_id", msg.UserID.String())
	}
	ev.Interface("data", msg.Data).Msg("notification")
	return nil
}
