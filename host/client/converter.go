package client

import (
	"context"
	"fmt"
	"time"

	"buckboost/core"
)

// DefaultAckHold is how long Acknowledge holds the fault acknowledge. It
// only has to outlast the firmware debounce of a few control ticks.
const DefaultAckHold = 50 * time.Millisecond

// BoardInfo is the fixed configuration reported by get_config.
type BoardInfo struct {
	Geometry core.TimingGeometry
	VinMin   uint32
	VinMax   uint32
	VoutMax  uint32
}

// Status reads the converter snapshot.
func (c *Client) Status() (core.Status, error) {
	r, err := c.Query("get_status", nil, "status")
	if err != nil {
		return core.Status{}, err
	}
	return statusFrom(r), nil
}

func statusFrom(r Response) core.Status {
	return core.Status{
		Mode:             core.ConverterMode(r.Value("mode")),
		Running:          r.Value("running") != 0,
		Cause:            core.FaultCause(r.Value("cause")),
		Ticks:            uint32(r.Value("ticks")),
		VinMilliVolts:    uint32(r.Value("vin")),
		VoutMilliVolts:   uint32(r.Value("vout")),
		TargetMilliVolts: uint32(r.Value("target")),
		Duty:             uint32(r.Value("duty")),
		Integral:         int32(r.Value("integral")),
		CTMax:            uint16(r.Value("ct_max")),
		CTMin:            uint16(r.Value("ct_min")),
		CTRange:          uint16(r.Value("ct_range")),
		Overruns:         uint32(r.Value("overruns")),
		Transitions:      uint32(r.Value("transitions")),
	}
}

// BoardInfo reads the timing geometry and protection window.
func (c *Client) BoardInfo() (BoardInfo, error) {
	r, err := c.Query("get_config", nil, "config")
	if err != nil {
		return BoardInfo{}, err
	}
	return BoardInfo{
		Geometry: core.TimingGeometry{
			Period:            uint32(r.Value("period")),
			DeadtimeRising:    uint32(r.Value("deadtime_rising")),
			DeadtimeFalling:   uint32(r.Value("deadtime_falling")),
			RepetitionPeriods: uint8(r.Value("repetition")),
		},
		VinMin:  uint32(r.Value("vin_min")),
		VinMax:  uint32(r.Value("vin_max")),
		VoutMax: uint32(r.Value("vout_max")),
	}, nil
}

// SetTarget changes the output voltage target.
func (c *Client) SetTarget(milliVolts uint32) error {
	return c.Send("set_target", Args{"millivolts": int64(milliVolts)})
}

// RequestMode asks for a regulated mode. The board ignores the request
// unless it is already regulating.
func (c *Client) RequestMode(mode core.ConverterMode) error {
	switch mode {
	case core.ModeBuck, core.ModeBoost, core.ModeMixed:
	default:
		return fmt.Errorf("%w: %s", core.ErrUnknownMode, mode)
	}
	return c.Send("request_mode", Args{"mode": int64(mode)})
}

// Advance cycles to the next regulated mode.
func (c *Client) Advance() error {
	return c.Send("advance_mode", nil)
}

// Start enables regulation.
func (c *Client) Start() error {
	return c.Send("start_converter", nil)
}

// Stop returns the converter to Idle.
func (c *Client) Stop() error {
	return c.Send("stop_converter", nil)
}

// Acknowledge holds the fault acknowledge for hold, then releases it.
func (c *Client) Acknowledge(hold time.Duration) error {
	if hold <= 0 {
		hold = DefaultAckHold
	}
	if err := c.Send("ack_fault", Args{"held": 1}); err != nil {
		return err
	}
	time.Sleep(hold)
	return c.Send("ack_fault", Args{"held": 0})
}

// Events reads the board's event ring, oldest first.
func (c *Client) Events() ([]core.Event, error) {
	events := c.Subscribe("event")
	defer c.Unsubscribe("event", events)
	done := c.Subscribe("events_done")
	defer c.Unsubscribe("events_done", done)

	if err := c.Send("get_events", nil); err != nil {
		return nil, err
	}

	var out []core.Event
	timeout := time.After(c.timeout())
	for {
		select {
		case r := <-events:
			out = append(out, eventFrom(r))
		case r := <-done:
			// events were sent before the terminator, drain what is queued
			for want := int(r.Value("count")); len(out) < want; {
				select {
				case e := <-events:
					out = append(out, eventFrom(e))
				case <-timeout:
					return out, fmt.Errorf("got %d of %d events", len(out), want)
				}
			}
			return out, nil
		case <-timeout:
			return out, fmt.Errorf("get_events: no events_done after %v", c.timeout())
		}
	}
}

func eventFrom(r Response) core.Event {
	return core.Event{
		Kind:  uint8(r.Value("kind")),
		Mode:  core.ConverterMode(r.Value("mode")),
		Tick:  uint32(r.Value("tick")),
		Value: uint32(r.Value("value")),
	}
}

// ReportStatus asks the board to push a status every interval. Zero stops
// the reports.
func (c *Client) ReportStatus(interval time.Duration) error {
	ticks, err := c.clockTicks(interval)
	if err != nil {
		return err
	}
	return c.Send("report_status", Args{"interval": int64(ticks)})
}

func (c *Client) clockTicks(d time.Duration) (uint32, error) {
	if d <= 0 {
		return 0, nil
	}
	dict := c.Dictionary()
	if dict == nil {
		return 0, ErrNoDictionary
	}
	freq, ok := dict.ConfigUint("CLOCK_FREQ")
	if !ok || freq == 0 {
		return 0, fmt.Errorf("dictionary has no CLOCK_FREQ")
	}
	ticks := uint64(d) * uint64(freq) / uint64(time.Second)
	if ticks == 0 {
		ticks = 1
	}
	if ticks > 0x7FFFFFFF {
		return 0, fmt.Errorf("report interval %v too long", d)
	}
	return uint32(ticks), nil
}

// Watch streams periodic status reports to fn until ctx is done, then
// turns the reports off again.
func (c *Client) Watch(ctx context.Context, interval time.Duration, fn func(core.Status)) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive")
	}
	reports := c.Subscribe("status")
	defer c.Unsubscribe("status", reports)

	if err := c.ReportStatus(interval); err != nil {
		return err
	}
	defer c.ReportStatus(0)

	for {
		select {
		case r := <-reports:
			fn(statusFrom(r))
		case <-ctx.Done():
			return nil
		}
	}
}

// Reset restarts the board firmware. The link is unusable afterwards.
func (c *Client) Reset() error {
	return c.Send("reset", nil)
}
