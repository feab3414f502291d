package core

import "testing"

func newTestEngine(t *testing.T) (*WaveformEngine, *mockWaveform, Config) {
	t.Helper()
	cfg := DefaultConfig()
	drv := &mockWaveform{}
	e := NewWaveformEngine(drv, &cfg)
	if err := e.Configure(cfg.Geometry); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return e, drv, cfg
}

func TestWaveformConfigureOnce(t *testing.T) {
	e, drv, cfg := newTestEngine(t)
	if drv.configured != 1 || drv.geometry != cfg.Geometry {
		t.Errorf("Expected one ConfigureTimer with %+v, got %d with %+v", cfg.Geometry, drv.configured, drv.geometry)
	}
	if drv.lastMask() != OutNone || len(drv.masks) != 1 {
		t.Errorf("Expected outputs routed off after configure, got %v", drv.masks)
	}
	if err := e.Configure(cfg.Geometry); err != ErrAlreadyConfigured {
		t.Errorf("Expected ErrAlreadyConfigured, got %v", err)
	}
}

func TestWaveformRejectsBadGeometry(t *testing.T) {
	cfg := DefaultConfig()
	bad := []TimingGeometry{
		{Period: 0, RepetitionPeriods: 1},
		{Period: MaxPeriod + 1, RepetitionPeriods: 1},
		{Period: 1000, DeadtimeRising: 500, DeadtimeFalling: 500, RepetitionPeriods: 1},
		{Period: 1000, RepetitionPeriods: 0},
	}
	for _, g := range bad {
		e := NewWaveformEngine(&mockWaveform{}, &cfg)
		if err := e.Configure(g); err != ErrBadGeometry {
			t.Errorf("geometry %+v: expected ErrBadGeometry, got %v", g, err)
		}
	}
}

func TestOutputsForModes(t *testing.T) {
	seen := map[OutputMask]ConverterMode{}
	for _, m := range regulatedModes {
		mask := OutputsFor(m)
		if mask == OutNone {
			t.Errorf("%s drives no outputs", m)
		}
		if prev, dup := seen[mask]; dup {
			t.Errorf("%s and %s share output set %06b", prev, m, mask)
		}
		seen[mask] = m
	}
	if OutputsFor(ModeIdle) != OutNone || OutputsFor(ModeFault) != OutNone {
		t.Error("Idle and Fault must drive no outputs")
	}
	if OutputsFor(ModeBuck)&OutBoostPair != 0 || OutputsFor(ModeBoost)&OutBuckPair != 0 {
		t.Error("single-stage modes must not switch the other leg")
	}
}

func TestWaveformSetDutyClampsAndRetimes(t *testing.T) {
	e, drv, cfg := newTestEngine(t)
	e.RouteMode(ModeBuck)
	l := cfg.Limits[ModeBuck]

	if got := e.SetDuty(StageBuck, 10000); got != 10000 {
		t.Errorf("Expected duty 10000, got %d", got)
	}
	e.setTriggerPhase(128)
	if e.Trigger() != 5000 || drv.compares[StageBuck][CompareADC] != 5000 {
		t.Errorf("Expected trigger at mid on-time 5000, got %d", e.Trigger())
	}
	if drv.compares[StageBuck][CompareReset] != 10000 || drv.compares[StageBuck][CompareSet] != 0 {
		t.Errorf("compare registers %v", drv.compares[StageBuck])
	}

	// the trigger follows the next duty update
	e.SetDuty(StageBuck, 8000)
	if e.Trigger() != 4000 {
		t.Errorf("Expected trigger retimed to 4000, got %d", e.Trigger())
	}

	if got := e.SetDuty(StageBuck, 0); got != l.MinDuty {
		t.Errorf("Expected clamp to %d, got %d", l.MinDuty, got)
	}
	if got := e.SetDuty(StageBuck, 60000); got != l.MaxDuty {
		t.Errorf("Expected clamp to %d, got %d", l.MaxDuty, got)
	}
	if got := e.SetDuty(StageBoost, 5000); got != 0 {
		t.Errorf("Expected boost stage ignored in buck mode, got %d", got)
	}
}

func TestWaveformBoostPrimaryStage(t *testing.T) {
	e, drv, _ := newTestEngine(t)
	e.RouteMode(ModeBoost)
	e.setTriggerPhase(64)

	e.SetDuty(StageBoost, 8000)
	if w := e.Window(StageBoost); w.Width() != 8000 {
		t.Errorf("Expected boost window width 8000, got %+v", w)
	}
	if drv.compares[StageBoost][CompareADC] != 2000 {
		t.Errorf("Expected trigger on boost stage at 2000, got %d", drv.compares[StageBoost][CompareADC])
	}
}

func TestWaveformIdleIgnoresDuty(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if got := e.SetDuty(StageBuck, 5000); got != 0 {
		t.Errorf("Expected no duty in idle, got %d", got)
	}
}

func TestWaveformMixedNesting(t *testing.T) {
	e, _, cfg := newTestEngine(t)
	e.RouteMode(ModeMixed)
	l := cfg.Limits[ModeMixed]

	for d := uint32(0); d <= cfg.Geometry.Period; d += 250 {
		applied := e.SetDuty(StageBuck, d)
		buck, boost := e.Window(StageBuck), e.Window(StageBoost)
		if applied < l.MinDuty || applied > l.MaxDuty {
			t.Fatalf("duty %d applied as %d", d, applied)
		}
		if boost.Width() == 0 {
			t.Fatalf("duty %d: empty boost window %+v", d, boost)
		}
		if boost.Set < buck.Set || boost.Reset > buck.Reset {
			t.Fatalf("duty %d: boost %+v not inside buck %+v", d, boost, buck)
		}
	}
}
