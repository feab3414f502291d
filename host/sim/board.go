package sim

import (
	"context"
	"errors"
	"io"
	"time"

	"buckboost/core"
	"buckboost/protocol"
)

// ClockFreq is the simulated background clock, matching the board's
// microsecond timer.
const ClockFreq = 1000000

// Board is a converter, its command link and a plant, stepped from a
// single goroutine the way the firmware's interrupt and main loop share one
// core.
type Board struct {
	Plant *Plant

	cfg  core.Config
	conv *core.Converter
	link *core.Link
	tr   *protocol.Transport
	out  *protocol.ScratchOutput
	in   *protocol.FifoBuffer
	w    io.Writer

	tickMicros uint32
	clock      uint32
	ticks      uint64

	resets int
}

// NewBoard builds a simulated board from a firmware configuration.
func NewBoard(cfg core.Config, plant PlantConfig) (*Board, error) {
	b := &Board{
		Plant: NewPlant(plant, cfg.Calibration),
		cfg:   cfg,
		out:   protocol.NewScratchOutput(),
		in:    protocol.NewFifoBuffer(1024),
	}
	if err := b.boot(); err != nil {
		return nil, err
	}

	// control tick length in microseconds, from the timer geometry
	g := cfg.Geometry
	b.tickMicros = uint32(uint64(g.Period) * uint64(g.RepetitionPeriods) * ClockFreq / timerClock)
	if b.tickMicros == 0 {
		b.tickMicros = 1
	}
	return b, nil
}

// boot builds the firmware state from scratch, as a power-on does.
func (b *Board) boot() error {
	conv, err := core.NewConverter(b.cfg, core.Hardware{
		Waveform: b.Plant,
		ADC:      b.Plant,
		Fault:    b.Plant,
	})
	if err != nil {
		return err
	}
	b.conv = conv
	b.link = core.NewLink(conv, "sim", ClockFreq)
	b.tr = protocol.NewTransport(b.out, b.link.Dispatch)
	b.tr.SetFlushCallback(b.flush)
	b.tr.SetResetCallback(b.link.HostReset)
	b.link.SetSender(b.tr)
	b.link.SetResetHandler(b.reset)
	return nil
}

// timerClock is the equivalent high-resolution timer clock of the
// reference board.
const timerClock = 4608000000

// Converter returns the simulated control core.
func (b *Board) Converter() *core.Converter {
	return b.conv
}

// Ticks returns the number of control ticks run.
func (b *Board) Ticks() uint64 {
	return b.ticks
}

// Resets returns how often the host asked for a firmware reset.
func (b *Board) Resets() int {
	return b.resets
}

// Step runs n control ticks, each followed by the background loop.
func (b *Board) Step(n int) {
	for i := 0; i < n; i++ {
		b.Plant.Convert(b.conv.Sampler())
		b.conv.ControlTick()
		b.Plant.Advance()
		b.ticks++

		b.clock += b.tickMicros
		b.conv.Background(b.clock)
		b.link.Background(b.clock)
		b.flush()
	}
}

// Receive feeds bytes from the host into the link.
func (b *Board) Receive(data []byte) {
	for len(data) > 0 {
		n := b.in.Write(data)
		data = data[n:]
		b.tr.Receive(b.in)
		if n == 0 {
			// ring full of garbage the scanner could not consume
			b.in.Reset()
		}
	}
	b.link.CheckPendingReset()
}

func (b *Board) flush() {
	if b.out.CurPosition() == 0 {
		return
	}
	if b.w != nil {
		b.w.Write(b.out.Result())
	}
	b.out.Reset()
}

// reset reboots the firmware. The plant keeps its charge; the new
// converter starts in Idle with every output off.
func (b *Board) reset() {
	b.flush()
	b.resets++
	b.Plant.RouteOutputs(core.OutNone)
	if err := b.boot(); err != nil {
		// the configuration booted once already
		panic(err)
	}
}

// Serve connects the board to a host over conn and steps it in real time:
// every period, enough control ticks run to cover the elapsed time. It
// returns when ctx is done or conn fails.
func (b *Board) Serve(ctx context.Context, conn io.ReadWriter, period time.Duration) error {
	b.w = conn
	defer func() { b.w = nil }()

	rx := make(chan []byte, 16)
	rxErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				select {
				case rx <- append([]byte(nil), buf[:n]...):
				case <-done:
					return
				}
			}
			if err != nil {
				rxErr <- err
				return
			}
		}
	}()

	ticksPerPeriod := int(period.Microseconds() / int64(b.tickMicros))
	if ticksPerPeriod < 1 {
		ticksPerPeriod = 1
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case data := <-rx:
			b.Receive(data)
		case <-ticker.C:
			b.Step(ticksPerPeriod)
		case err := <-rxErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
