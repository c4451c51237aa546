package bbflash

import (
	"fmt"
	"log/slog"
	"time"
)

// Clock is the time source of the busy-poll guard.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// waitWhileFlagSet polls the status register read by op until flag clears.
// The deadline is fixed at entry; the flag is checked at least once even
// with a zero timeout.
func (c *Controller) waitWhileFlagSet(op, flag byte, timeout time.Duration) error {
	end := c.clock.Now().Add(timeout)
	for polls := 1; ; polls++ {
		st := c.readStatusByte(op)
		if err := c.busErr(); err != nil {
			return err
		}
		if st&flag == 0 {
			c.trace("wait:clear", slog.Int("op", int(op)), slog.Int("flag", int(flag)), slog.Int("polls", polls))
			return nil
		}
		if c.clock.Now().After(end) {
			c.logerr("wait:timeout",
				slog.Int("op", int(op)),
				slog.Int("flag", int(flag)),
				slog.Int("status", int(st)),
				slog.Duration("timeout", timeout),
				slog.Int("polls", polls),
			)
			return fmt.Errorf("%w: opcode 0x%02X flag 0x%02X still set after %v", ErrTimeout, op, flag, timeout)
		}
		if c.pollInterval > 0 {
			c.clock.Sleep(c.pollInterval)
		}
	}
}
