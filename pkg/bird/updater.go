package bird

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"peerd/pkg/model"
	"peerd/pkg/roster"
)

// ErrClosed is returned by Update after Close.
var ErrClosed = errors.New("bird updater closed")

const (
	// DefaultRetryDelay is how long a deferred cycle waits before retrying.
	DefaultRetryDelay = 500 * time.Millisecond
	// starvationThreshold is the retry attempt count above which each
	// further attempt logs a warning.
	starvationThreshold = 50
)

// Options are the BIRD integration settings, read at the start of every cycle.
type Options struct {
	GeneratedConf  string
	ControlSock    string
	DoReconfigure  bool
	ControlTimeout time.Duration
	Strict         bool
}

// OptionsFunc returns the current options, or nil when BIRD is disabled.
type OptionsFunc func() *Options

// ZoneLister gives access to the roster's zones.
type ZoneLister interface {
	Zones() []*roster.Zone
}

// Observer is notified after every finished cycle. Observers may also
// implement RetryObserver.
type Observer interface {
	CycleDone(model.CycleEvent)
}

// RetryObserver is notified about delayed update scheduling.
type RetryObserver interface {
	RetryScheduled(retries uint32)
	RetryStale()
}

// Status is a snapshot of the updater state.
type Status struct {
	Watermark      uint64            `json:"watermark"`
	RequestedAt    time.Time         `json:"requestedAt"`
	PendingRetries int               `json:"pendingRetries"`
	Last           *model.CycleEvent `json:"last,omitempty"`
}

// Updater keeps the generated BIRD configuration in sync with the roster.
// At most one cycle (render, write, reconfigure) runs at a time.
//
// Exported fields must be set before the first call to Update.
type Updater struct {
	Logger     *zap.Logger
	Observers  []Observer
	RetryDelay time.Duration
	// MaxRetries drops a deferred update after this many attempts. 0 means
	// retry forever.
	MaxRetries uint32
	// Reconfigure defaults to the package level Reconfigure.
	Reconfigure func(ctx context.Context, sockPath string) (string, error)

	zones   ZoneLister
	options OptionsFunc

	op          chan struct{}
	watermark   atomic.Uint64
	requestedAt atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
	last   *model.CycleEvent
}

// NewUpdater creates an updater over zones. options is consulted on every cycle.
func NewUpdater(zones ZoneLister, options OptionsFunc, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Updater{
		Logger:      logger,
		RetryDelay:  DefaultRetryDelay,
		Reconfigure: Reconfigure,
		zones:       zones,
		options:     options,
		op:          make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		timers:      make(map[*time.Timer]struct{}),
	}
}

// Update records a new update request and runs one cycle. A cycle deferred
// because of a busy zone is not an error; it is retried in the background.
//
// ctx only bounds the wait for the operation lock. If it ends first, the
// request is handed to a delayed cycle, so it is never lost. Once the lock is
// held the cycle runs to completion on the updater's own context.
func (u *Updater) Update(ctx context.Context) error {
	if u.isClosed() {
		return ErrClosed
	}
	u.requestedAt.Store(time.Now().UnixNano())
	u.watermark.Add(1)
	return u.run(ctx, 0)
}

// RequestDelayedUpdate schedules a cycle after RetryDelay without blocking.
// The retry is dropped if a newer Update was requested in the meantime.
func (u *Updater) RequestDelayedUpdate(retries uint32) {
	captured := u.watermark.Load()

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	if u.MaxRetries > 0 && retries >= u.MaxRetries {
		u.Logger.Error("giving up on delayed BIRD update", zap.Uint32("retries", retries))
		return
	}
	u.notifyRetry(func(o RetryObserver) { o.RetryScheduled(retries) })

	u.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(u.retryDelay(), func() {
		defer u.wg.Done()
		u.mu.Lock()
		delete(u.timers, t)
		closed := u.closed
		u.mu.Unlock()
		if closed {
			return
		}
		u.retry(captured, retries)
	})
	u.timers[t] = struct{}{}
}

func (u *Updater) retry(captured uint64, retries uint32) {
	if u.watermark.Load() > captured {
		u.notifyRetry(func(o RetryObserver) { o.RetryStale() })
		return
	}
	attempt := retries + 1
	if attempt > starvationThreshold {
		u.Logger.Warn("a BIRD update request has been delayed repeatedly", zap.Uint32("times", attempt))
	}
	if err := u.run(u.ctx, attempt); err != nil && !errors.Is(err, ErrClosed) {
		u.Logger.Error("failed to perform delayed BIRD update", zap.Error(err))
	}
}

// run executes one cycle and schedules a retry when it was deferred. The
// retry is requested after the operation lock is released.
func (u *Updater) run(ctx context.Context, retries uint32) error {
	deferred, err := u.cycle(ctx, retries)
	if deferred {
		u.RequestDelayedUpdate(retries)
	}
	return err
}

func (u *Updater) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// cycle waits for the operation lock on ctx. A request whose wait is cut
// short reports deferred, so the latest watermark still gets a cycle.
func (u *Updater) cycle(ctx context.Context, retries uint32) (deferred bool, err error) {
	select {
	case u.op <- struct{}{}:
	case <-u.ctx.Done():
		return false, ErrClosed
	case <-ctx.Done():
		if u.ctx.Err() != nil {
			return false, ErrClosed
		}
		return true, ctx.Err()
	}
	defer func() { <-u.op }()
	if u.ctx.Err() != nil {
		return false, ErrClosed
	}
	ctx = u.ctx

	ev := model.CycleEvent{ID: u.watermark.Load(), Retries: retries}
	opts := u.options()
	if opts == nil {
		ev.Outcome = model.CycleDisabled
		u.finish(ev)
		return false, nil
	}
	ev.Path = opts.GeneratedConf
	logger := u.Logger.With(zap.Uint64("request", ev.ID), zap.Uint32("retries", retries))

	r, err := Render(ctx, u.zones.Zones(), RenderOptions{Strict: opts.Strict, Logger: logger})
	if err != nil {
		return false, u.fail(ev, fmt.Errorf("render bird config: %w", err))
	}
	if r.Deferred {
		logger.Debug("zone busy, deferring BIRD update", zap.String("zone", r.BusyZone))
		ev.Outcome = model.CycleDeferred
		ev.BusyZone = r.BusyZone
		u.finish(ev)
		return true, nil
	}

	if err := writeConfig(opts.GeneratedConf, r.Text); err != nil {
		return false, u.fail(ev, err)
	}
	ev.Lines = r.Peers
	logger.Info("BIRD config written", zap.String("path", opts.GeneratedConf), zap.Int("peers", r.Peers))

	if opts.DoReconfigure {
		rctx := ctx
		if opts.ControlTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, opts.ControlTimeout)
			defer cancel()
		}
		start := time.Now()
		resp, err := u.Reconfigure(rctx, opts.ControlSock)
		ev.Reconfigure = time.Since(start)
		if err != nil {
			return false, u.fail(ev, fmt.Errorf("reconfigure bird: %w", err))
		}
		ev.Response = resp
		logger.Info("BIRD re-configure response", zap.String("response", resp))
	}
	ev.Outcome = model.CycleWritten
	u.finish(ev)
	return false, nil
}

func (u *Updater) fail(ev model.CycleEvent, err error) error {
	ev.Outcome = model.CycleFailed
	ev.Error = err.Error()
	u.finish(ev)
	return err
}

func (u *Updater) finish(ev model.CycleEvent) {
	ev.Timestamp = time.Now()
	u.mu.Lock()
	u.last = &ev
	u.mu.Unlock()
	for _, o := range u.Observers {
		o.CycleDone(ev)
	}
}

func (u *Updater) notifyRetry(fn func(RetryObserver)) {
	for _, o := range u.Observers {
		if ro, ok := o.(RetryObserver); ok {
			fn(ro)
		}
	}
}

func (u *Updater) retryDelay() time.Duration {
	if u.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return u.RetryDelay
}

// Status returns a snapshot for status reporting.
func (u *Updater) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := Status{
		Watermark:      u.watermark.Load(),
		PendingRetries: len(u.timers),
	}
	if ns := u.requestedAt.Load(); ns != 0 {
		s.RequestedAt = time.Unix(0, ns)
	}
	if u.last != nil {
		last := *u.last
		s.Last = &last
	}
	return s
}

// Close stops pending retries and waits for running delayed cycles.
func (u *Updater) Close() {
	u.mu.Lock()
	u.closed = true
	for t := range u.timers {
		if t.Stop() {
			u.wg.Done()
		}
		delete(u.timers, t)
	}
	u.mu.Unlock()
	u.cancel()
	u.wg.Wait()
}

// writeConfig replaces path with text via a temp file in the same directory.
func writeConfig(path, text string) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write bird config: %w", err)
	}
	tmp := f.Name()
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write bird config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write bird config: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write bird config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write bird config: %w", err)
	}
	return nil
}
