package controller

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jkaflik/cover2mqtt/internal/cover"
)

// AttachFeedback subscribes the configured motion sensors. With no sensors
// configured the observer is inert and tracking relies on commanded moves
// only.
//
// A sensor going active while idle is an externally initiated move: tracking
// starts without any command being issued. A sensor going inactive while
// motion is attributed to that direction settles the estimate; no stop
// sequence runs since the motor already stopped on its own. When a sensor
// contradicts the tracked direction, the most recent transition wins: the
// stale motion is settled (and, if it was commanded, its stop sequence fired)
// before tracking follows the sensor.
func (c *Controller) AttachFeedback(ctx context.Context, source cover.SensorSource) error {
	if c.cfg.UpSensor == "" && c.cfg.DownSensor == "" {
		return nil
	}

	if c.cfg.UpSensor != "" {
		err := source.Subscribe(c.cfg.UpSensor, func(active bool) {
			c.onFeedback(ctx, MovingUp, active)
		})
		if err != nil {
			return errors.Wrapf(err, "%s: subscribe %s", c.cfg.Name, c.cfg.UpSensor)
		}
	}
	if c.cfg.DownSensor != "" {
		err := source.Subscribe(c.cfg.DownSensor, func(active bool) {
			c.onFeedback(ctx, MovingDown, active)
		})
		if err != nil {
			return errors.Wrapf(err, "%s: subscribe %s", c.cfg.Name, c.cfg.DownSensor)
		}
	}
	return nil
}

func (c *Controller) onFeedback(parent context.Context, dir MotionState, active bool) {
	c.mu.Lock()

	if !active {
		if c.state != dir {
			c.mu.Unlock()
			return
		}

		logrus.Infof("%s: %s feedback inactive, settling", c.cfg.Name, dir)
		c.settleLocked()
		if c.cancelMove != nil {
			c.cancelMove()
			c.cancelMove = nil
		}
		c.mu.Unlock()
		return
	}

	if c.state == dir {
		// confirms what we already track
		c.mu.Unlock()
		return
	}

	wasCommanded := c.state != Idle && !c.external
	stale := Idle
	if c.state != Idle {
		stale = c.settleLocked()
		logrus.Warnf("%s: %s feedback active while %s was tracked, following the sensor", c.cfg.Name, dir, stale)
	} else {
		logrus.Infof("%s: %s feedback active, tracking external move", c.cfg.Name, dir)
	}

	target := 100.0
	if dir == MovingDown {
		target = 0
	}
	moveCtx := c.retainLocked(parent)
	if stale != Idle && wasCommanded {
		// release the stale relay command while the sensor-driven motion is
		// tracked; a newer command still cancels the sequence
		go c.executeStop(moveCtx, stale)
	}
	c.beginMotionLocked(moveCtx, dir, target, true)
	c.mu.Unlock()
}
