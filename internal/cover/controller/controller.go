package controller

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jkaflik/cover2mqtt/internal/cover"
)

// MotionState is the tracked motion of a cover. Mutated only under the
// controller mutex.
type MotionState string

const (
	Idle       MotionState = "idle"
	MovingUp   MotionState = "moving_up"
	MovingDown MotionState = "moving_down"
)

// Positions closer than this are treated as equal.
const positionEpsilon = 0.5

var ErrNoShadePosition = errors.New("no shade position configured")

// Controller estimates the cover position from elapsed motion time and
// arbitrates between commanded moves and externally observed ones. One
// instance per cover; a single mutex serializes commands and feedback events.
type Controller struct {
	cfg    Config
	sink   cover.CommandSink
	caller cover.ServiceCaller
	store  cover.SnapshotStore

	mu            sync.Mutex
	state         MotionState
	position      float64
	basePosition  float64
	target        float64
	hasTarget     bool
	external      bool
	lastDirection MotionState
	timer         motionTimer
	cancelMove    context.CancelFunc
	gen           uint64

	updates       chan update
	updateHandler cover.UpdateHandler
}

// update is a snapshot of state taken under the mutex, delivered to the
// update handler and the snapshot store by the dispatch goroutine.
type update struct {
	state    string
	position int
	raw      float64
	persist  bool
}

// New validates the configuration and restores the last settled position from
// the snapshot store, the configured initial position otherwise.
func New(cfg Config, sink cover.CommandSink, caller cover.ServiceCaller, store cover.SnapshotStore) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		sink:    sink,
		caller:  caller,
		store:   store,
		state:   Idle,
		updates: make(chan update, 64),
	}
	c.position = clampPosition(cfg.InitialPosition)
	go c.dispatchUpdates()

	if store != nil {
		position, ok, err := store.Load(context.Background(), cfg.Name)
		if err != nil {
			logrus.Warnf("%s: position restore failed: %s", cfg.Name, err)
		} else if ok {
			c.position = clampPosition(position)
			logrus.Infof("%s: position restored to %.0f", cfg.Name, c.position)
		}
	}

	return c, nil
}

func (c *Controller) Name() string {
	return c.cfg.Name
}

func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(math.Round(c.position))
}

func (c *Controller) Motion() MotionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case MovingUp:
		return cover.CoverOpeningState
	case MovingDown:
		return cover.CoverClosingState
	}
	if c.position < positionEpsilon {
		return cover.CoverClosedState
	}
	return cover.CoverOpenState
}

func (c *Controller) OnUpdate(h cover.UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateHandler = h
}

func (c *Controller) Open(ctx context.Context) error {
	logrus.Infof("%s: open", c.cfg.Name)
	return c.moveTo(ctx, 100)
}

func (c *Controller) Close(ctx context.Context) error {
	logrus.Infof("%s: close", c.cfg.Name)
	return c.moveTo(ctx, 0)
}

func (c *Controller) SetPosition(ctx context.Context, position int) error {
	logrus.Infof("%s: set position to %d", c.cfg.Name, position)
	return c.moveTo(ctx, clampPosition(float64(position)))
}

func (c *Controller) SetShade(ctx context.Context) error {
	if c.cfg.ShadePosition == nil {
		return errors.Wrapf(ErrNoShadePosition, "%s", c.cfg.Name)
	}
	logrus.Infof("%s: set shade position %.0f", c.cfg.Name, *c.cfg.ShadePosition)
	return c.moveTo(ctx, clampPosition(*c.cfg.ShadePosition))
}

// Stop halts any motion: the position estimate is settled from the elapsed
// time and the stop sequence for the tracked direction runs (the fallback one
// when direction is unknown, both relays turned off when none is configured).
func (c *Controller) Stop(ctx context.Context) error {
	logrus.Infof("%s: stop", c.cfg.Name)

	c.mu.Lock()
	dir := c.state
	if dir == Idle {
		dir = c.lastDirection
	} else {
		c.settleLocked()
	}
	seqCtx := c.retainLocked(ctx)
	c.mu.Unlock()

	c.executeStop(seqCtx, dir)
	return nil
}

func (c *Controller) moveTo(parent context.Context, target float64) error {
	c.mu.Lock()

	if c.state == Idle && math.Abs(target-c.position) < positionEpsilon {
		logrus.Debugf("%s: already at position %.0f", c.cfg.Name, target)
		c.mu.Unlock()
		return nil
	}

	dir := MovingUp
	if target < c.position {
		dir = MovingDown
	}

	if c.state == dir && math.Abs(target-c.target) < positionEpsilon {
		// same direction, same destination: nothing to reissue
		logrus.Debugf("%s: already %s towards %.0f", c.cfg.Name, dir, target)
		c.mu.Unlock()
		return nil
	}

	if c.state == dir {
		c.retargetLocked(parent, target)
		c.mu.Unlock()
		return nil
	}

	stopped := Idle
	wasExternal := c.external
	if c.state != Idle {
		stopped = c.settleLocked()
	}
	moveCtx := c.retainLocked(parent)
	gen := c.gen
	c.mu.Unlock()

	if stopped != Idle && !wasExternal {
		// direction reversal of a commanded move: halt the motor first
		c.executeStop(moveCtx, stopped)
	}

	if moveCtx.Err() != nil {
		logrus.Debugf("%s: move to %.0f superseded before start", c.cfg.Name, target)
		return nil
	}

	sinkTarget := c.cfg.UpTarget
	if dir == MovingDown {
		sinkTarget = c.cfg.DownTarget
	}
	if err := c.sink.TurnOn(moveCtx, sinkTarget); err != nil {
		return errors.Wrapf(err, "%s: %s command failed", c.cfg.Name, dir)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// The relay pulse already fired, but whoever raced us owns the relays
		// now: a superseding command has run its own stop before starting, and
		// a feedback event re-attributes the motion once its sensor reports.
		// Issuing a compensating stop here would fight that newer operation.
		logrus.Warnf("%s: move to %.0f superseded after the %s command fired", c.cfg.Name, target, dir)
		return nil
	}
	c.beginMotionLocked(moveCtx, dir, target, false)
	return nil
}

// retargetLocked keeps the motor running in the current direction and only
// reschedules the arrival deadline for the new target.
func (c *Controller) retargetLocked(parent context.Context, target float64) {
	logrus.Debugf("%s: retarget %s to %.0f", c.cfg.Name, c.state, target)

	c.target = target
	c.hasTarget = true
	// once a destination is commanded, arrival must actively stop the motor,
	// even when the motion itself started externally
	c.external = false
	ctx := c.retainLocked(parent)
	go c.trackMotion(ctx, c.remainingTravelLocked())
}

// beginMotionLocked records motion start and spawns the tracking goroutine.
// external marks motion observed via feedback sensors rather than commanded.
func (c *Controller) beginMotionLocked(ctx context.Context, dir MotionState, target float64, external bool) {
	c.gen++
	c.state = dir
	c.lastDirection = dir
	c.external = external
	c.target = target
	c.hasTarget = true
	c.basePosition = c.position
	c.timer.start()
	c.queueUpdateLocked(false)

	deadline := c.remainingTravelLocked()
	logrus.Debugf("%s: %s towards %.0f for %s", c.cfg.Name, dir, target, deadline)
	go c.trackMotion(ctx, deadline)
}

// remainingTravelLocked estimates time until the target is reached, extended
// by the overrun window when the target is a travel extreme.
func (c *Controller) remainingTravelLocked() time.Duration {
	full := c.cfg.fullDuration(c.state)
	distance := math.Abs(c.target - c.position)
	travel := time.Duration(float64(full) * distance / 100)
	if c.target <= 0 || c.target >= 100 {
		travel += c.cfg.Overrun
	}
	return travel
}

// trackMotion recomputes the live position at the tick interval and settles
// the motion once the arrival deadline elapses. Canceled whenever a newer
// command or feedback event takes over.
func (c *Controller) trackMotion(ctx context.Context, deadline time.Duration) {
	arrived := time.After(deadline)
	tick := time.NewTicker(c.cfg.tickInterval())
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.refreshPosition()
		case <-arrived:
			if ctx.Err() != nil {
				// a newer operation took over right at the deadline
				return
			}
			c.mu.Lock()
			external := c.external
			c.mu.Unlock()
			if external {
				// physical move ran out of travel; nothing to command
				c.settle()
			} else {
				c.Stop(context.Background())
			}
			return
		}
	}
}

// refreshPosition updates the live estimate without stopping motion.
func (c *Controller) refreshPosition() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle || !c.timer.running() {
		return
	}

	c.position = c.estimateLocked(c.state, c.timer.elapsed())
	c.queueUpdateLocked(false)
}

// settle finalizes tracking without commanding anything, used when motion
// ended physically (feedback went inactive, external travel ran out).
func (c *Controller) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelMove != nil {
		c.cancelMove()
		c.cancelMove = nil
	}
	c.settleLocked()
}

// settleLocked freezes the timer, applies the final position estimate,
// transitions to idle and persists. Returns the direction motion was
// attributed to.
func (c *Controller) settleLocked() MotionState {
	dir := c.state
	if dir == Idle {
		return Idle
	}

	elapsed := c.timer.stop()
	c.position = c.estimateLocked(dir, elapsed)
	c.state = Idle
	c.external = false
	c.hasTarget = false
	c.gen++
	c.queueUpdateLocked(true)

	logrus.Infof("%s: settled at %.1f after %s %s", c.cfg.Name, c.position, elapsed, dir)
	return dir
}

// estimateLocked converts elapsed motion time into an absolute position,
// clamped to the 0-100 range and never past the target. Overrun time at an
// extreme therefore never moves the estimate.
func (c *Controller) estimateLocked(dir MotionState, elapsed time.Duration) float64 {
	delta, err := estimateDelta(elapsed, c.cfg.fullDuration(dir))
	if err != nil {
		logrus.Errorf("%s: position estimate failed: %s", c.cfg.Name, err)
		return c.position
	}

	position := c.basePosition + delta
	if dir == MovingDown {
		position = c.basePosition - delta
	}
	if c.hasTarget {
		if dir == MovingUp && position > c.target {
			position = c.target
		}
		if dir == MovingDown && position < c.target {
			position = c.target
		}
	}
	return clampPosition(position)
}

// executeStop runs the stop sequence matching a direction. With no sequence
// configured at all, both relay outputs are turned off instead.
func (c *Controller) executeStop(ctx context.Context, dir MotionState) {
	steps := c.cfg.stopSequenceFor(dir)
	if len(steps) == 0 {
		for _, target := range []string{c.cfg.UpTarget, c.cfg.DownTarget} {
			if err := c.sink.TurnOff(ctx, target); err != nil {
				logrus.Errorf("%s: turn off %s failed: %s", c.cfg.Name, target, err)
			}
		}
		return
	}

	runStopSequence(ctx, c.cfg.Name, c.caller, steps)
}

// retainLocked cancels any in-flight move or stop sequence and derives a
// fresh context owned by the new operation.
func (c *Controller) retainLocked(parent context.Context) context.Context {
	if c.cancelMove != nil {
		logrus.Debugf("%s: found previous operation context, cancel", c.cfg.Name)
		c.cancelMove()
	}

	ctx, cancel := context.WithCancel(parent)
	c.cancelMove = cancel
	return ctx
}

// queueUpdateLocked hands the current state off to the dispatch goroutine.
// MQTT publishes and store writes must not happen under the mutex: a slow
// broker or disk would stall ticks and commands.
func (c *Controller) queueUpdateLocked(persist bool) {
	u := update{
		position: int(math.Round(c.position)),
		raw:      c.position,
		persist:  persist,
		state:    cover.CoverOpenState,
	}
	switch {
	case c.state == MovingUp:
		u.state = cover.CoverOpeningState
	case c.state == MovingDown:
		u.state = cover.CoverClosingState
	case c.position < positionEpsilon:
		u.state = cover.CoverClosedState
	}

	select {
	case c.updates <- u:
	default:
		logrus.Warnf("%s: update queue full, dropping %s/%d", c.cfg.Name, u.state, u.position)
	}
}

// dispatchUpdates delivers queued updates in order for the lifetime of the
// controller.
func (c *Controller) dispatchUpdates() {
	for u := range c.updates {
		if u.persist && c.store != nil {
			if err := c.store.Save(context.Background(), c.cfg.Name, u.raw); err != nil {
				logrus.Warnf("%s: position persist failed: %s", c.cfg.Name, err)
			}
		}

		c.mu.Lock()
		handler := c.updateHandler
		c.mu.Unlock()
		if handler != nil {
			handler(u.state, u.position)
		}
	}
}
