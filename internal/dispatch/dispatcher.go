// Package dispatch connects inbound messages to the conversation flow.
//
// The dispatcher serializes processing per user so concurrent webhook
// deliveries for the same phone cannot interleave their read-modify-write of
// the session, while events for different users proceed in parallel.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/resq108/DispatchPipe/internal/flow"
	"github.com/resq108/DispatchPipe/internal/messaging"
	"github.com/resq108/DispatchPipe/internal/metrics"
	"github.com/resq108/DispatchPipe/internal/models"
	"github.com/resq108/DispatchPipe/internal/store"
)

// Default timing configuration
const (
	// DefaultSessionTTL is how long an idle session survives before eviction
	DefaultSessionTTL = 24 * time.Hour
	// DefaultSweepInterval is how often the eviction sweep runs
	DefaultSweepInterval = 10 * time.Minute
)

// Opts holds configuration options for the dispatcher.
type Opts struct {
	Metrics       *metrics.Metrics
	Provider      string
	SessionTTL    time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithProvider sets the provider label used in logs and metrics.
func WithProvider(name string) Option {
	return func(o *Opts) { o.Provider = name }
}

// WithSessionTTL sets how long idle sessions are kept.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithSweepInterval sets how often the eviction sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// userLock is a refcounted mutex so the lock table does not grow with every
// phone number ever seen.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// Dispatcher routes inbound events through the conversation flow and sends
// the resulting replies.
type Dispatcher struct {
	store         store.Store
	service       messaging.Service
	metrics       *metrics.Metrics
	provider      string
	sessionTTL    time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*userLock
}

// NewDispatcher creates a dispatcher over the given store and messaging service.
func NewDispatcher(st store.Store, svc messaging.Service, opts ...Option) *Dispatcher {
	cfg := Opts{
		Provider:      "unknown",
		SessionTTL:    DefaultSessionTTL,
		SweepInterval: DefaultSweepInterval,
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Dispatcher created", "provider", cfg.Provider, "session_ttl", cfg.SessionTTL, "sweep_interval", cfg.SweepInterval)

	return &Dispatcher{
		store:         st,
		service:       svc,
		metrics:       cfg.Metrics,
		provider:      cfg.Provider,
		sessionTTL:    cfg.SessionTTL,
		sweepInterval: cfg.SweepInterval,
		now:           cfg.Now,
		locks:         make(map[string]*userLock),
	}
}

// acquireLock returns the per-user mutex for phone, locked.
func (d *Dispatcher) acquireLock(phone string) *userLock {
	d.mu.Lock()
	l, ok := d.locks[phone]
	if !ok {
		l = &userLock{}
		d.locks[phone] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return l
}

// releaseLock unlocks the per-user mutex and drops it from the table when no
// other event is waiting on it.
func (d *Dispatcher) releaseLock(phone string, l *userLock) {
	l.mu.Unlock()

	d.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(d.locks, phone)
	}
	d.mu.Unlock()
}

// HandleEvent advances the sender's session and sends the reply. The session
// write happens under the per-user lock; the outbound send happens after the
// lock is released so a slow provider call cannot serialize other users'
// events behind this sender. State is committed before the send, so a send
// failure never rolls the conversation back.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev models.InboundEvent) (string, error) {
	if ev.From == "" {
		slog.Warn("Dispatcher.HandleEvent: event without sender dropped")
		return "", nil
	}

	reply, err := d.advanceLocked(ctx, ev)
	if err != nil {
		return "", err
	}

	if reply != "" {
		if sendErr := d.service.SendMessage(ctx, ev.From, reply); sendErr != nil {
			// The session already advanced; the user can resend to get the
			// next prompt again.
			slog.Error("Dispatcher.HandleEvent: reply send failed", "error", sendErr, "from", ev.From)
			d.metrics.ObserveOutbound(d.provider, false)
		} else {
			d.metrics.ObserveOutbound(d.provider, true)
		}
	}
	return reply, nil
}

// eventTime returns the provider-reported timestamp of the event, falling
// back to the dispatcher clock when the event carries none.
func (d *Dispatcher) eventTime(ev models.InboundEvent) time.Time {
	if ev.Time > 0 {
		return time.Unix(ev.Time, 0)
	}
	return d.now()
}

// advanceLocked performs the read-modify-write of the sender's session under
// the per-user lock.
func (d *Dispatcher) advanceLocked(ctx context.Context, ev models.InboundEvent) (string, error) {
	l := d.acquireLock(ev.From)
	defer d.releaseLock(ev.From, l)

	sess, err := d.store.GetSession(ctx, ev.From)
	if err != nil {
		slog.Error("Dispatcher.advanceLocked: session read failed", "error", err, "from", ev.From)
		return "", err
	}

	res := flow.Advance(sess, ev, d.eventTime(ev))

	if res.Session != nil {
		if err := d.store.SaveSession(ctx, *res.Session); err != nil {
			slog.Error("Dispatcher.advanceLocked: session write failed", "error", err, "from", ev.From)
			return "", err
		}
	}

	if res.Completed {
		rec := models.DispatchRecord{
			Phone:         res.Session.Phone,
			EmergencyType: res.Session.EmergencyType,
			Location:      res.Session.Location,
			Time:          d.now().Unix(),
		}
		if err := d.store.AddDispatch(ctx, rec); err != nil {
			// The confirmation still goes out; the audit record is best effort.
			slog.Error("Dispatcher.advanceLocked: dispatch record write failed", "error", err, "from", ev.From)
		}
		d.metrics.ObserveDispatch(string(res.Session.EmergencyType))
		slog.Info("Emergency dispatch completed",
			"phone", res.Session.Phone,
			"emergency_type", res.Session.EmergencyType,
			"location", res.Session.Location)
	}

	return res.Reply, nil
}

// Start consumes the messaging service's inbound channel and runs the
// eviction sweep until the context is cancelled. It blocks, so callers run it
// in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher started", "provider", d.provider)
	go d.sweepLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping", "provider", d.provider)
			return
		case ev, ok := <-d.service.Inbound():
			if !ok {
				slog.Info("Dispatcher inbound channel closed", "provider", d.provider)
				return
			}
			if _, err := d.HandleEvent(ctx, ev); err != nil {
				slog.Error("Dispatcher event handling failed", "error", err, "from", ev.From)
			}
		}
	}
}

// sweepLoop evicts idle sessions on a ticker and refreshes the active session
// gauge. Backends with native TTL report zero evictions here.
func (d *Dispatcher) sweepLoop(ctx context.Context) {
	if d.sessionTTL <= 0 {
		slog.Debug("Dispatcher sweep disabled, no session TTL configured")
		return
	}
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep runs a single eviction pass.
func (d *Dispatcher) Sweep(ctx context.Context) {
	cutoff := d.now().Add(-d.sessionTTL)
	evicted, err := d.store.DeleteSessionsInactiveBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Dispatcher sweep failed", "error", err)
		return
	}
	if evicted > 0 {
		slog.Info("Dispatcher evicted idle sessions", "count", evicted, "cutoff", cutoff)
	}
	if count, err := d.store.CountSessions(ctx); err == nil {
		d.metrics.SetActiveSessions(count)
	}
}
