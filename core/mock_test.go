package core

import "testing"

// mockWaveform records every register write.
type mockWaveform struct {
	geometry   TimingGeometry
	configured int
	compares   [stageCount][4]uint32
	masks      []OutputMask
}

func (m *mockWaveform) ConfigureTimer(g TimingGeometry) error {
	m.configured++
	m.geometry = g
	return nil
}

func (m *mockWaveform) SetCompare(stage Stage, unit CompareUnit, value uint32) {
	m.compares[stage][unit] = value
}

func (m *mockWaveform) RouteOutputs(mask OutputMask) {
	m.masks = append(m.masks, mask)
}

func (m *mockWaveform) lastMask() OutputMask {
	if len(m.masks) == 0 {
		return OutNone
	}
	return m.masks[len(m.masks)-1]
}

// mockADC counts trigger and software-start requests; conversions are
// injected by the test bench.
type mockADC struct {
	configured bool
	triggered  bool
	kicks      int
}

func (a *mockADC) ConfigureChannels() error { a.configured = true; return nil }
func (a *mockADC) EnableTrigger(enabled bool) { a.triggered = enabled }
func (a *mockADC) StartADCRound()             { a.kicks++ }

type mockFault struct {
	asserted bool
}

func (f *mockFault) FaultAsserted() bool { return f.asserted }

type mockIndicator struct {
	shown []ConverterMode
	cause FaultCause
}

func (i *mockIndicator) ShowMode(mode ConverterMode, cause FaultCause) {
	i.shown = append(i.shown, mode)
	i.cause = cause
}

// bench is a converter wired to mocks.
type bench struct {
	t    *testing.T
	conv *Converter
	pwm  *mockWaveform
	adc  *mockADC
	flt  *mockFault
	led  *mockIndicator
}

func newBench(t *testing.T, cfg Config) *bench {
	t.Helper()
	b := &bench{
		t:   t,
		pwm: &mockWaveform{},
		adc: &mockADC{},
		flt: &mockFault{},
		led: &mockIndicator{},
	}
	conv, err := NewConverter(cfg, Hardware{Waveform: b.pwm, ADC: b.adc, Fault: b.flt, Indicator: b.led})
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	b.conv = conv
	return b
}

// rawFor returns the smallest code that converts to at least mv.
func rawFor(cal Calibration, mv uint32, num, den uint32) uint16 {
	raw := (uint64(mv)*(ADCMax+1)*uint64(den) + uint64(cal.RefMilliVolts*num) - 1) / uint64(cal.RefMilliVolts*num)
	if raw > ADCMax {
		raw = ADCMax
	}
	return uint16(raw)
}

// round delivers one complete conversion round through the sampler.
func (b *bench) round(vinMV, voutMV uint32) {
	cal := b.conv.Config().Calibration
	s := b.conv.Sampler()
	s.RoundStarted()
	s.ChannelDone(ChannelVin, rawFor(cal, vinMV, cal.VinNum, cal.VinDen))
	s.ChannelDone(ChannelVout, rawFor(cal, voutMV, cal.VoutNum, cal.VoutDen))
}

// step delivers a round and runs one control tick.
func (b *bench) step(vinMV, voutMV uint32) Status {
	b.round(vinMV, voutMV)
	b.conv.ControlTick()
	return b.conv.Status()
}

// startIn runs the converter up into the mode chosen for vin and target.
func (b *bench) startIn(vinMV, voutMV, targetMV uint32) Status {
	b.t.Helper()
	if err := b.conv.SetTarget(targetMV); err != nil {
		b.t.Fatalf("SetTarget: %v", err)
	}
	b.conv.Start()
	return b.step(vinMV, voutMV)
}
