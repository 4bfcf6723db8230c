package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"grievline/internal/config"
	"grievline/internal/repo"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatch        = 100
)

// Dispatcher tails the event log and fans each derived message out to
// every sender. The cursor starts at the latest event so restarts do
// not replay history. Delivery failures are logged and counted but the
// cursor still advances; a dead webhook must not dam the feed.
type Dispatcher struct {
	Repo     repo.Repo
	Senders  []Sender
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger

	mu     sync.Mutex
	cursor int64
	primed bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewDispatcher(r repo.Repo, senders []Sender, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Dispatcher{
		Repo:     r,
		Senders:  senders,
		Interval: interval,
		Batch:    defaultBatch,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// FromConfig assembles the configured senders and a dispatcher polling
// at the configured interval. With no sender enabled the dispatcher's
// Start is a no-op.
func FromConfig(cfg config.NotifierConfig, r repo.Repo, logger *slog.Logger) *Dispatcher {
	var senders []Sender
	if cfg.Store {
		senders = append(senders, StoreSender{Repo: r})
	}
	if cfg.Log {
		senders = append(senders, LogSender{Logger: logger})
	}
	for _, hook := range cfg.Webhooks {
		senders = append(senders, NewWebhookSender(hook.URL, hook.Secret))
	}
	if cfg.Redis.Addr != "" {
		senders = append(senders, NewRedisSender(cfg.Redis.Addr, cfg.Redis.Channel))
	}
	d := NewDispatcher(r, senders, time.Duration(cfg.PollIntervalSeconds)*time.Second)
	d.Logger = logger
	return d
}

// Start launches the polling loop. It is a no-op without senders.
func (d *Dispatcher) Start() {
	if len(d.Senders) == 0 {
		close(d.done)
		return
	}
	go d.run()
}

// Stop halts the loop and waits for the in-flight batch to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.dispatchOnce(context.Background())
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) dispatchOnce(ctx context.Context) {
	cursor, ok := d.initCursor(ctx)
	if !ok {
		return
	}
	batch := d.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	events, err := d.Repo.EventsAfter(ctx, batch, cursor)
	if err != nil {
		d.logger().Warn("notify: fetch events failed", "err", err)
		return
	}
	for _, evt := range events {
		for _, msg := range MessagesFor(evt) {
			d.deliver(ctx, msg)
		}
		d.setCursor(evt.ID)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	for _, s := range d.Senders {
		if err := s.Send(ctx, msg); err != nil {
			deliveryFailures.WithLabelValues(s.Name()).Inc()
			d.logger().Warn("notify: delivery failed",
				"sender", s.Name(),
				"kind", msg.Kind,
				"event_id", msg.EventID,
				"err", err,
			)
			continue
		}
		deliveriesTotal.WithLabelValues(s.Name(), msg.Kind).Inc()
	}
}

func (d *Dispatcher) initCursor(ctx context.Context) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.primed {
		return d.cursor, true
	}
	latest, err := d.Repo.LatestEventID(ctx)
	if err != nil {
		d.logger().Warn("notify: init cursor failed", "err", err)
		return 0, false
	}
	d.cursor = latest
	d.primed = true
	return d.cursor, true
}

func (d *Dispatcher) setCursor(value int64) {
	d.mu.Lock()
	d.cursor = value
	d.mu.Unlock()
}
