package core

import (
	"math/rand"
	"testing"
)

func newTestRegulator(mode ConverterMode) (*Regulator, Config) {
	cfg := DefaultConfig()
	r := NewRegulator(&cfg)
	r.Select(mode)
	r.Reset()
	return r, cfg
}

func TestRegulatorZeroErrorHoldsNominal(t *testing.T) {
	r, cfg := newTestRegulator(ModeBuck)
	for i := 0; i < 10; i++ {
		if d := r.Tick(5000, 5000); d != cfg.Limits[ModeBuck].NominalOffset {
			t.Fatalf("tick %d: expected nominal %d, got %d", i, cfg.Limits[ModeBuck].NominalOffset, d)
		}
	}
	if r.Integral() != 0 {
		t.Errorf("Expected zero integral, got %d", r.Integral())
	}
}

func TestRegulatorDirection(t *testing.T) {
	r, cfg := newTestRegulator(ModeBuck)
	nominal := cfg.Limits[ModeBuck].NominalOffset

	if d := r.Tick(4000, 5000); d <= nominal {
		t.Errorf("output low: expected duty above %d, got %d", nominal, d)
	}
	r.Reset()
	if d := r.Tick(6000, 5000); d >= nominal {
		t.Errorf("output high: expected duty below %d, got %d", nominal, d)
	}
}

func TestRegulatorDutyAlwaysWithinLimits(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, mode := range regulatedModes {
		r, cfg := newTestRegulator(mode)
		l := cfg.Limits[mode]
		for i := 0; i < 5000; i++ {
			measured := uint32(rng.Intn(20000))
			target := uint32(1 + rng.Intn(18000))
			d := r.Tick(measured, target)
			if d < l.MinDuty || d > l.MaxDuty {
				t.Fatalf("%s tick %d: duty %d outside [%d, %d]", mode, i, d, l.MinDuty, l.MaxDuty)
			}
			if in := r.Integral(); in > cfg.Gains.SatLimit || in < -cfg.Gains.SatLimit {
				t.Fatalf("%s tick %d: integral %d beyond ±%d", mode, i, in, cfg.Gains.SatLimit)
			}
		}
	}
}

func TestRegulatorAntiWindup(t *testing.T) {
	r, cfg := newTestRegulator(ModeBuck)
	l := cfg.Limits[ModeBuck]

	// Drive far into positive saturation.
	for i := 0; i < 2000; i++ {
		r.Tick(0, 10000)
	}
	if r.Integral() != cfg.Gains.SatLimit {
		t.Fatalf("Expected integral clamped at %d, got %d", cfg.Gains.SatLimit, r.Integral())
	}
	ctMax, _ := r.Saturation()
	if ctMax == 0 {
		t.Error("Expected CTMax to count saturated ticks")
	}

	// Reverse the error: the bounded integral must let the duty leave the
	// upper limit within a bounded number of ticks.
	left := -1
	for i := 0; i < 500; i++ {
		if r.Tick(12000, 5000) < l.MaxDuty {
			left = i
			break
		}
	}
	if left < 0 {
		t.Fatal("duty never left the upper limit after error reversal")
	}
	bound := int(cfg.Gains.SatLimit/(cfg.Gains.Ki*7000/cfg.Gains.Scale)) + 2
	if left > bound {
		t.Errorf("duty left saturation after %d ticks, expected at most %d", left, bound)
	}
}

func TestRegulatorSaturationCountersDecay(t *testing.T) {
	r, _ := newTestRegulator(ModeBoost)
	for i := 0; i < 300; i++ {
		r.Tick(0, 15000)
	}
	ctMax, ctMin := r.Saturation()
	if ctMax == 0 || ctMin != 0 {
		t.Fatalf("Expected CTMax > 0 and CTMin = 0, got %d, %d", ctMax, ctMin)
	}

	// In-range ticks decay the counters one step each, down to zero.
	r.Reset()
	r.state[ModeBoost].ctMax = 5
	for i := 0; i < 3; i++ {
		r.Tick(15000, 15000)
	}
	if ctMax, _ = r.Saturation(); ctMax != 2 {
		t.Errorf("Expected CTMax 2 after three in-range ticks, got %d", ctMax)
	}
	for i := 0; i < 10; i++ {
		r.Tick(15000, 15000)
	}
	if ctMax, _ = r.Saturation(); ctMax != 0 {
		t.Errorf("Expected CTMax to settle at 0, got %d", ctMax)
	}
}

func TestRegulatorResetIdempotent(t *testing.T) {
	r, cfg := newTestRegulator(ModeMixed)
	for i := 0; i < 50; i++ {
		r.Tick(3000, 9000)
	}
	r.Reset()
	first := *r
	r.Reset()
	if *r != first {
		t.Errorf("second Reset changed state: %+v vs %+v", *r, first)
	}
	if r.Integral() != 0 || r.LastDuty() != cfg.Limits[ModeMixed].NominalOffset {
		t.Errorf("Reset left integral %d duty %d", r.Integral(), r.LastDuty())
	}
}

func TestRegulatorPerModeAccumulators(t *testing.T) {
	r, _ := newTestRegulator(ModeBuck)
	for i := 0; i < 20; i++ {
		r.Tick(4000, 5000)
	}
	buckIntegral := r.Integral()

	r.Select(ModeBoost)
	r.Reset()
	if r.IntegralOf(ModeBuck) != buckIntegral {
		t.Errorf("Resetting boost touched the buck accumulator")
	}
	if r.Integral() != 0 {
		t.Errorf("Expected fresh boost accumulator, got %d", r.Integral())
	}
}

func TestRegulatorIgnoresUnregulatedModes(t *testing.T) {
	r, _ := newTestRegulator(ModeFault)
	if d := r.Tick(0, 10000); d != 0 {
		t.Errorf("Expected 0 duty in fault, got %d", d)
	}
}

func TestRegulatorLargeGainKeepsDirection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gains.Kp = 262144
	cfg.Gains.Ki = 262144
	r := NewRegulator(&cfg)
	r.Select(ModeBoost)
	r.Reset()

	l := cfg.Limits[ModeBoost]
	if d := r.Tick(0, 10000); d != l.MaxDuty {
		t.Errorf("empty output: expected MaxDuty %d, got %d", l.MaxDuty, d)
	}
	if in := r.Integral(); in != cfg.Gains.SatLimit {
		t.Errorf("Expected integral pinned at %d, got %d", cfg.Gains.SatLimit, in)
	}
	r.Reset()
	if d := r.Tick(18000, 1000); d != l.MinDuty {
		t.Errorf("high output: expected MinDuty %d, got %d", l.MinDuty, d)
	}
}
