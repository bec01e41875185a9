package upstream

import (
	"context"
	"errors"
	"fmt"
	"inn-gateway/internal/breaker"
	"inn-gateway/internal/observability"
	"inn-gateway/internal/rate"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Defaults observed to work against the live upstream. Timeouts here are
// tuning knobs, not invariants.
const (
	DefaultTimeout           = 20 * time.Second
	DefaultMinControls       = 2
	DefaultQuietTimeout      = 2 * time.Second
	DefaultCollectTimeout    = 4 * time.Second
	DefaultIdleTimeout       = 800 * time.Millisecond
	DefaultMaxEvents         = 5
	DefaultPeerFloodCooldown = 6 * time.Hour
)

// Config tunes the driver. Zero values fall back to the defaults above.
type Config struct {
	Timeout           time.Duration // overall deadline per upstream action
	SendDelayMin      time.Duration // jitter bounds before each action
	SendDelayMax      time.Duration
	FloodWaitBuffer   time.Duration // added to every transient wait
	PeerFloodCooldown time.Duration // breaker opening on account flood
	MinControls       int           // controls required to stop the edit watch
	QuietTimeout      time.Duration // edit watch gives up after this silence
	CollectTimeout    time.Duration // overall cap on the post-click burst
	IdleTimeout       time.Duration // per-event wait within the burst
	MaxEvents         int           // cap on collected burst size
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MinControls <= 0 {
		c.MinControls = DefaultMinControls
	}
	if c.QuietTimeout <= 0 {
		c.QuietTimeout = DefaultQuietTimeout
	}
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = DefaultCollectTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.PeerFloodCooldown <= 0 {
		c.PeerFloodCooldown = DefaultPeerFloodCooldown
	}
	if c.SendDelayMin < 0 {
		c.SendDelayMin = 0
	}
	if c.SendDelayMax < c.SendDelayMin {
		c.SendDelayMax = c.SendDelayMin
	}
	return c
}

// Driver owns the per-action protocol against the target bot. Exactly one
// caller uses it at a time; the single-worker invariant upholds that, the
// driver itself does not lock.
type Driver struct {
	transport Transport
	breaker   *breaker.Breaker
	limiter   *rate.Limiter
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       Config
}

func NewDriver(t Transport, b *breaker.Breaker, l *rate.Limiter, m *observability.Metrics, logger *zap.Logger, cfg Config) *Driver {
	return &Driver{
		transport: t,
		breaker:   b,
		limiter:   l,
		metrics:   m,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// gate runs the pre-action sequence in its fixed order: breaker, limiter,
// jitter. Gate state may advance during each blocking step, so nothing is
// cached across them.
func (d *Driver) gate(ctx context.Context) error {
	if err := d.breaker.Wait(ctx); err != nil {
		return err
	}
	if err := d.limiter.Acquire(ctx); err != nil {
		return err
	}
	return d.jitter(ctx)
}

func (d *Driver) jitter(ctx context.Context) error {
	lo, hi := d.cfg.SendDelayMin, d.cfg.SendDelayMax
	if hi <= 0 {
		return nil
	}
	delay := lo
	if hi > lo {
		delay += time.Duration(rand.Int63n(int64(hi - lo)))
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendAndWait delivers text to the target bot and returns the first reply.
// Unlike the edit watch and the collect phase, not hearing back within the
// overall timeout is an error here.
func (d *Driver) SendAndWait(ctx context.Context, text string) (Message, error) {
	if err := d.gate(ctx); err != nil {
		return Message{}, err
	}

	events, stop := d.transport.Subscribe()
	defer stop()

	d.metrics.UpstreamActionsTotal.WithLabelValues("send").Inc()
	d.logger.Info("upstream send", zap.String("text", text))
	if err := d.transport.Send(ctx, text); err != nil {
		return Message{}, d.noteWait(err)
	}

	overall := time.NewTimer(d.cfg.Timeout)
	defer overall.Stop()

	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-overall.C:
			return Message{}, fmt.Errorf("no reply within %s", d.cfg.Timeout)
		case ev := <-events:
			if ev.Kind != EventNew {
				continue
			}
			d.logger.Info("upstream reply",
				zap.Int("msg_id", ev.Message.ID),
				zap.String("text", oneLine(ev.Message.Text)))
			return ev.Message, nil
		}
	}
}

// WaitEdit watches msg for edits until it carries at least MinControls
// controls. When the quiet timeout or the overall timeout fires it returns
// the best version seen so far; timeouts are not errors here.
func (d *Driver) WaitEdit(ctx context.Context, msg Message) Message {
	best := msg
	if best.Controls() >= d.cfg.MinControls {
		return best
	}

	events, stop := d.transport.Subscribe()
	defer stop()

	overall := time.NewTimer(d.cfg.Timeout)
	defer overall.Stop()

	for {
		// Edits of other messages must not reset the quiet timer.
		quiet := time.NewTimer(d.cfg.QuietTimeout)

	edits:
		for {
			select {
			case <-ctx.Done():
				quiet.Stop()
				return best
			case <-overall.C:
				quiet.Stop()
				return best
			case <-quiet.C:
				return best
			case ev := <-events:
				if ev.Kind == EventEdit && ev.Message.ID == best.ID {
					best = ev.Message
					break edits
				}
			}
		}
		quiet.Stop()

		if best.Controls() >= d.cfg.MinControls {
			d.logger.Debug("edit watch satisfied", zap.Int("controls", best.Controls()))
			return best
		}
	}
}

// ClickAndCollect presses btn on msg and captures the burst of messages and
// edits that follows, stopping at the idle timeout, the overall collect
// timeout or the event cap, whichever fires first.
func (d *Driver) ClickAndCollect(ctx context.Context, msg Message, btn Button) ([]Message, error) {
	if err := d.gate(ctx); err != nil {
		return nil, err
	}

	events, stop := d.transport.Subscribe()
	defer stop()

	d.metrics.UpstreamActionsTotal.WithLabelValues("click").Inc()
	d.logger.Info("upstream click", zap.Int("msg_id", msg.ID), zap.String("label", btn.Label))
	if err := d.transport.Click(ctx, msg.ID, btn.Data); err != nil {
		return nil, d.noteWait(err)
	}

	overall := time.NewTimer(d.cfg.CollectTimeout)
	defer overall.Stop()

	var collected []Message
	for len(collected) < d.cfg.MaxEvents {
		idle := time.NewTimer(d.cfg.IdleTimeout)
		select {
		case <-ctx.Done():
			idle.Stop()
			return collected, nil
		case <-overall.C:
			idle.Stop()
			return collected, nil
		case <-idle.C:
			return collected, nil
		case ev := <-events:
			idle.Stop()
			collected = append(collected, ev.Message)
		}
	}
	return collected, nil
}

// noteWait opens the breaker for upstream wait signals before handing the
// error back. Other errors pass through untouched.
func (d *Driver) noteWait(err error) error {
	var wait *WaitError
	if errors.As(err, &wait) {
		cooldown := wait.Duration + d.cfg.FloodWaitBuffer
		d.logger.Warn("upstream asked to wait",
			zap.Duration("cooldown", cooldown),
			zap.Bool("slow_mode", wait.SlowMode))
		d.openBreaker(cooldown)
		return err
	}

	var flood *AccountFloodError
	if errors.As(err, &flood) {
		d.logger.Error("account flood, applying long cooldown",
			zap.Duration("cooldown", d.cfg.PeerFloodCooldown))
		d.openBreaker(d.cfg.PeerFloodCooldown)
		return err
	}

	return err
}

func (d *Driver) openBreaker(cooldown time.Duration) {
	d.breaker.OpenFor(cooldown)
	d.metrics.BreakerOpenedTotal.Inc()
	d.metrics.BreakerOpenSeconds.Set(d.breaker.Remaining().Seconds())
}

// FindButton locates the control whose label matches target after
// whitespace collapsing and case folding. Exact matches win over substring
// matches; ties resolve to the earliest control in row-major order.
func FindButton(msg Message, target string) (Button, bool) {
	want := normalizeLabel(target)

	for _, row := range msg.Buttons {
		for _, b := range row {
			if b.Label != "" && normalizeLabel(b.Label) == want {
				return b, true
			}
		}
	}
	for _, row := range msg.Buttons {
		for _, b := range row {
			if b.Label != "" && strings.Contains(normalizeLabel(b.Label), want) {
				return b, true
			}
		}
	}
	return Button{}, false
}

// normalizeLabel collapses whitespace runs and case-folds, so label
// matching is insensitive to spacing and letter case. A fresh caser per
// call: cases.Caser is stateful and not safe to share.
func normalizeLabel(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}
