package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"buckboost/core"
)

func TestParseAppliesDefaults(t *testing.T) {
	p, err := Parse([]byte("target_mv: 9000\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := Default()
	if p.Device != d.Device || p.Baud != d.Baud {
		t.Errorf("link defaults not applied: %+v", p)
	}
	if p.Start == nil || !*p.Start {
		t.Error("start should default to true")
	}
	if p.ReportInterval != 250*time.Millisecond || p.AckHold != 50*time.Millisecond {
		t.Errorf("durations %v %v", p.ReportInterval, p.AckHold)
	}
}

func TestParseFullProfile(t *testing.T) {
	text := `
device: /dev/ttyUSB1
target_mv: 12000
mode: mixed
start: false
report_interval: 1s
ack_hold: 20ms
board:
  kp: 60
  vout_max_mv: 20000
  max_overload: 400
plant:
  vin_mv: 9000
  load_ohms: 4.7
  noise_mv: 10
`
	p, err := Parse([]byte(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Device != "/dev/ttyUSB1" || p.Mode != "mixed" || *p.Start {
		t.Errorf("parsed %+v", p)
	}
	if p.ReportInterval != time.Second || p.AckHold != 20*time.Millisecond {
		t.Errorf("durations %v %v", p.ReportInterval, p.AckHold)
	}

	cfg, err := p.BoardConfig()
	if err != nil {
		t.Fatalf("BoardConfig: %v", err)
	}
	def := core.DefaultConfig()
	if cfg.Gains.Kp != 60 || cfg.Gains.Ki != def.Gains.Ki {
		t.Errorf("gains %+v", cfg.Gains)
	}
	if cfg.Protection.VoutMax != 20000 || cfg.Protection.MaxOverload != 400 || cfg.Protection.VinMin != def.Protection.VinMin {
		t.Errorf("protection %+v", cfg.Protection)
	}
	if cfg.VoutTarget != 12000 {
		t.Errorf("initial target %d", cfg.VoutTarget)
	}

	plant := p.PlantConfig()
	if plant.VinMilliVolts != 9000 || plant.LoadOhms != 4.7 || plant.NoiseMilliVolts != 10 {
		t.Errorf("plant %+v", plant)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"no target", "mode: buck\n", ErrNoTarget},
		{"bad mode", "target_mv: 5000\nmode: fault\n", ErrBadMode},
		{"unknown mode", "target_mv: 5000\nmode: turbo\n", ErrBadMode},
		{"target above limit", "target_mv: 30000\n", core.ErrBadTarget},
		{"bad geometry", "target_mv: 5000\nboard:\n  deadtime_rising: 20000\n", core.ErrBadGeometry},
		{"bad protection", "target_mv: 5000\nboard:\n  vin_min_mv: 20000\n", core.ErrBadProtection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.text)); !errors.Is(err, tt.want) {
				t.Errorf("got %v, expected %v", err, tt.want)
			}
		})
	}

	if _, err := Parse([]byte("target_mv: [1, 2]\n")); err == nil {
		t.Error("expected a YAML type error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte("target_mv: 7500\nmode: boost\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.TargetMilliVolts != 7500 || p.Mode != "boost" {
		t.Errorf("loaded %+v", p)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

// fakeController regulates in buck after a number of Status polls.
type fakeController struct {
	target    uint32
	started   bool
	requested []core.ConverterMode
	polls     int
	startAt   int
	mode      core.ConverterMode
}

func (f *fakeController) SetTarget(mv uint32) error { f.target = mv; return nil }
func (f *fakeController) Start() error { f.started = true; return nil }

func (f *fakeController) RequestMode(m core.ConverterMode) error {
	f.requested = append(f.requested, m)
	return nil
}

func (f *fakeController) Status() (core.Status, error) {
	f.polls++
	if f.started && f.polls >= f.startAt {
		return core.Status{Mode: f.mode, Running: true}, nil
	}
	return core.Status{Mode: core.ModeIdle}, nil
}

func TestApplyWaitsForRegulation(t *testing.T) {
	p, err := Parse([]byte("target_mv: 9000\nmode: mixed\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := &fakeController{startAt: 3, mode: core.ModeBuck}
	if err := p.Apply(f); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if f.target != 9000 || !f.started {
		t.Errorf("controller %+v", f)
	}
	if f.polls < 3 {
		t.Errorf("mode requested after %d polls, before regulation", f.polls)
	}
	if len(f.requested) != 1 || f.requested[0] != core.ModeMixed {
		t.Errorf("requested %v", f.requested)
	}
}

func TestApplySkipsRequestWhenAlreadyInMode(t *testing.T) {
	p, _ := Parse([]byte("target_mv: 5000\nmode: buck\n"))
	f := &fakeController{startAt: 1, mode: core.ModeBuck}
	if err := p.Apply(f); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(f.requested) != 0 {
		t.Errorf("requested %v", f.requested)
	}
}

func TestApplyWithoutStart(t *testing.T) {
	p, _ := Parse([]byte("target_mv: 5000\nstart: false\nmode: boost\n"))
	f := &fakeController{}
	if err := p.Apply(f); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if f.started || f.polls != 0 || f.target != 5000 {
		t.Errorf("controller %+v", f)
	}
}

func TestApplyReportsFault(t *testing.T) {
	p, _ := Parse([]byte("target_mv: 5000\nmode: boost\n"))
	f := &fakeController{startAt: 1, mode: core.ModeFault}
	if err := p.Apply(f); err == nil {
		t.Error("expected an error when the converter faults")
	}
}
