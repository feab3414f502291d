package core

import "testing"

// panelRig drives a panel from test-controlled button levels.
type panelRig struct {
	b       *bench
	p       *Panel
	now     uint32
	advance bool
	ack     bool
}

func newPanelRig(t *testing.T) *panelRig {
	r := &panelRig{b: newBench(t, DefaultConfig())}
	r.p = NewPanel(r.b.conv, func() (bool, bool) { return r.advance, r.ack })
	r.p.Start(r.now)
	return r
}

// samples runs the background loop across n panel samples.
func (r *panelRig) samples(n int) {
	for i := 0; i < n; i++ {
		r.now += PanelSampleTicks
		r.b.conv.Background(r.now)
	}
}

func TestPanelAdvanceDebounce(t *testing.T) {
	r := newPanelRig(t)
	r.b.startIn(12000, 0, 5000)

	// a bounce shorter than the sample count is ignored
	r.advance = true
	r.samples(PanelSampleCount - 2)
	r.advance = false
	r.samples(PanelSampleCount)
	if s := r.b.step(12000, 5000); s.Mode != ModeBuck {
		t.Fatalf("Expected buck after a bounce, got %s", s.Mode)
	}

	r.advance = true
	r.samples(PanelSampleCount)
	if s := r.b.step(12000, 5000); s.Mode != ModeBoost {
		t.Fatalf("Expected boost after a press, got %s", s.Mode)
	}

	// holding the button is one press
	r.samples(10 * PanelSampleCount)
	if s := r.b.step(12000, 5000); s.Mode != ModeBoost {
		t.Errorf("held button advanced again: %s", s.Mode)
	}
}

func TestPanelAcknowledgeClearsFault(t *testing.T) {
	r := newPanelRig(t)
	r.b.startIn(12000, 0, 5000)
	n := int(DefaultConfig().Protection.AckDebounceTicks)

	r.b.flt.asserted = true
	r.b.step(12000, 5000)
	r.b.flt.asserted = false

	r.ack = true
	r.samples(PanelSampleCount - 1)
	r.ack = false
	r.samples(PanelSampleCount)
	for i := 0; i < n; i++ {
		r.b.step(12000, 5000)
	}
	if s := r.b.conv.Status(); s.Mode != ModeFault {
		t.Fatalf("bounce on the acknowledge button cleared the fault: %s", s.Mode)
	}

	r.ack = true
	r.samples(PanelSampleCount)
	for i := 0; i < n; i++ {
		r.b.step(12000, 5000)
	}
	if s := r.b.conv.Status(); s.Mode == ModeFault {
		t.Error("Expected the held acknowledge button to clear the fault")
	}
}
