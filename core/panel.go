package core

// Front-panel sampling, in background clock ticks. On the board that is
// microseconds, so a level must hold for 5ms to count.
const (
	PanelSampleTicks = 1000
	PanelSampleCount = 5
)

// PanelReader returns the raw button levels, true while pressed.
type PanelReader func() (advance, ack bool)

// debounced is one oversampled input. A new level is taken once it has
// been read on count consecutive samples.
type debounced struct {
	level   bool
	pending uint8
}

func (d *debounced) sample(raw bool, count uint8) bool {
	if raw == d.level {
		d.pending = 0
		return false
	}
	d.pending++
	if d.pending < count {
		return false
	}
	d.pending = 0
	d.level = raw
	return true
}

// Panel turns two local buttons into converter requests. A press of the
// advance button cycles the regulated mode; the acknowledge button drives
// the fault acknowledge level while it is held.
type Panel struct {
	conv   *Converter
	read   PanelReader
	timer  Timer
	period uint32
	count  uint8

	advance debounced
	ack     debounced
}

func NewPanel(conv *Converter, read PanelReader) *Panel {
	return &Panel{
		conv:   conv,
		read:   read,
		period: PanelSampleTicks,
		count:  PanelSampleCount,
	}
}

// Start schedules sampling on the converter's background scheduler. Call
// once, from the background loop.
func (p *Panel) Start(now uint32) {
	p.timer.Handler = p.sampleEvent
	p.timer.WakeTime = now + p.period
	p.conv.sched.Add(&p.timer)
}

func (p *Panel) sampleEvent(t *Timer) uint8 {
	advance, ack := p.read()
	if p.advance.sample(advance, p.count) && p.advance.level {
		p.conv.RequestAdvance()
	}
	if p.ack.sample(ack, p.count) {
		p.conv.SetAcknowledge(p.ack.level)
	}

	t.WakeTime += p.period
	if timerBefore(t.WakeTime, p.conv.sched.Now()) {
		t.WakeTime = p.conv.sched.Now() + p.period
	}
	return SF_RESCHEDULE
}
