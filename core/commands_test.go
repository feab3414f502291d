package core

import (
	"encoding/json"
	"testing"

	"buckboost/protocol"
)

type sentMessage struct {
	id      uint16
	payload []byte
}

type recordingSender struct {
	sent []sentMessage
}

func (r *recordingSender) SendCommand(id uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	r.sent = append(r.sent, sentMessage{id: id, payload: append([]byte(nil), out.Result()...)})
}

func newTestLink(t *testing.T) (*Link, *bench, *recordingSender) {
	t.Helper()
	b := newBench(t, DefaultConfig())
	l := NewLink(b.conv, "test", 1000000)
	rs := &recordingSender{}
	l.SetSender(rs)
	return l, b, rs
}

func call(t *testing.T, l *Link, name string, args ...uint32) error {
	t.Helper()
	cmd, ok := l.Registry().LookupName(name)
	if !ok {
		t.Fatalf("command %s not registered", name)
	}
	out := protocol.NewScratchOutput()
	for _, a := range args {
		protocol.EncodeVLQUint(out, a)
	}
	data := out.Result()
	return l.Dispatch(cmd.ID, &data)
}

func decodeUints(t *testing.T, payload []byte, n int) []uint32 {
	t.Helper()
	vals := make([]uint32, n)
	for i := range vals {
		v, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			t.Fatalf("decode field %d: %v", i, err)
		}
		vals[i] = v
	}
	return vals
}

func TestLinkBootstrapIDs(t *testing.T) {
	l, _, _ := newTestLink(t)
	for name, want := range map[string]uint16{"identify_response": 0, "identify": 1} {
		cmd, ok := l.Registry().LookupName(name)
		if !ok || cmd.ID != want {
			t.Errorf("%s: expected ID %d, got %+v", name, want, cmd)
		}
	}
}

func TestLinkIdentifyServesDictionary(t *testing.T) {
	l, _, rs := newTestLink(t)

	var dict []byte
	for offset := uint32(0); ; {
		rs.sent = nil
		if err := call(t, l, "identify", offset, 40); err != nil {
			t.Fatalf("identify: %v", err)
		}
		if len(rs.sent) != 1 || rs.sent[0].id != 0 {
			t.Fatalf("Expected one identify_response, got %+v", rs.sent)
		}
		payload := rs.sent[0].payload
		got, _ := protocol.DecodeVLQUint(&payload)
		chunk, err := protocol.DecodeVLQBytes(&payload)
		if err != nil || got != offset {
			t.Fatalf("bad identify_response at %d: offset %d err %v", offset, got, err)
		}
		if len(chunk) == 0 {
			break
		}
		dict = append(dict, chunk...)
		offset += uint32(len(chunk))
	}

	var parsed struct {
		Version   string            `json:"version"`
		Config    map[string]string `json:"config"`
		Commands  map[string]int    `json:"commands"`
		Responses map[string]int    `json:"responses"`
	}
	if err := json.Unmarshal(dict, &parsed); err != nil {
		t.Fatalf("dictionary is not valid JSON: %v\n%s", err, dict)
	}
	if parsed.Version != FirmwareVersion || parsed.Config["MCU"] != "test" || parsed.Config["PERIOD"] != "18432" {
		t.Errorf("unexpected header %+v", parsed)
	}
	if parsed.Commands["set_target millivolts=%u"] == 0 {
		t.Errorf("set_target missing from %v", parsed.Commands)
	}
	if id, ok := parsed.Responses["identify_response offset=%u data=%.*s"]; !ok || id != 0 {
		t.Errorf("identify_response missing from %v", parsed.Responses)
	}
}

func TestLinkControlCommands(t *testing.T) {
	l, b, _ := newTestLink(t)

	if err := call(t, l, "set_target", 7000); err != nil {
		t.Fatalf("set_target: %v", err)
	}
	if err := call(t, l, "set_target", 50000); err != ErrBadTarget {
		t.Errorf("Expected ErrBadTarget, got %v", err)
	}
	if err := call(t, l, "start_converter"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s := b.step(12000, 0); s.Mode != ModeBuck || s.TargetMilliVolts != 7000 {
		t.Fatalf("Expected buck at 7000 mV, got %s %d", s.Mode, s.TargetMilliVolts)
	}

	if err := call(t, l, "request_mode", uint32(ModeBoost)); err != nil {
		t.Fatalf("request_mode: %v", err)
	}
	if s := b.step(12000, 7000); s.Mode != ModeBoost {
		t.Errorf("Expected boost, got %s", s.Mode)
	}
	if err := call(t, l, "request_mode", 9); err != ErrUnknownMode {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}

	call(t, l, "advance_mode")
	if s := b.step(12000, 7000); s.Mode != ModeMixed {
		t.Errorf("Expected mixed, got %s", s.Mode)
	}

	call(t, l, "stop_converter")
	if s := b.step(12000, 7000); s.Mode != ModeIdle {
		t.Errorf("Expected idle, got %s", s.Mode)
	}
}

func TestLinkStatusAndAck(t *testing.T) {
	l, b, rs := newTestLink(t)
	b.startIn(12000, 0, 5000)
	b.flt.asserted = true
	b.step(12000, 5000)
	b.flt.asserted = false

	call(t, l, "get_status")
	statusID, _ := l.Registry().LookupName("status")
	last := rs.sent[len(rs.sent)-1]
	if last.id != statusID.ID {
		t.Fatalf("Expected status response, got id %d", last.id)
	}
	f := decodeUints(t, last.payload, 3)
	if ConverterMode(f[0]) != ModeFault || FaultCause(f[2]) != CauseFaultLine {
		t.Errorf("status reports mode %s cause %s", ConverterMode(f[0]), FaultCause(f[2]))
	}

	call(t, l, "ack_fault", 1)
	for i := 0; i < int(DefaultConfig().Protection.AckDebounceTicks); i++ {
		b.step(12000, 5000)
	}
	if s := b.conv.Status(); s.Mode == ModeFault {
		t.Error("acknowledge over the link did not clear the fault")
	}
}

func TestLinkEventsAndPeriodicReport(t *testing.T) {
	l, b, rs := newTestLink(t)
	b.startIn(12000, 0, 5000)

	call(t, l, "get_events")
	doneID, _ := l.Registry().LookupName("events_done")
	last := rs.sent[len(rs.sent)-1]
	if last.id != doneID.ID {
		t.Fatalf("Expected events_done last, got id %d", last.id)
	}
	count := decodeUints(t, last.payload, 1)[0]
	if int(count) != len(rs.sent)-1 || count == 0 {
		t.Errorf("events_done count %d, sent %d events", count, len(rs.sent)-1)
	}

	rs.sent = nil
	l.Background(0)
	call(t, l, "report_status", 1000)
	l.Background(999)
	if len(rs.sent) != 0 {
		t.Fatal("report sent early")
	}
	l.Background(1000)
	l.Background(2000)
	if len(rs.sent) != 2 {
		t.Errorf("Expected 2 periodic reports, got %d", len(rs.sent))
	}

	call(t, l, "report_status", 0)
	l.Background(5000)
	if len(rs.sent) != 2 {
		t.Errorf("reports continued after disable")
	}
}

func TestLinkDeferredReset(t *testing.T) {
	l, _, _ := newTestLink(t)
	resets := 0
	l.SetResetHandler(func() { resets++ })

	l.CheckPendingReset()
	call(t, l, "reset")
	if resets != 0 {
		t.Fatal("reset ran inside the handler")
	}
	l.CheckPendingReset()
	if resets != 1 {
		t.Errorf("Expected reset after CheckPendingReset, got %d", resets)
	}
}

func TestRegistryUnknownCommand(t *testing.T) {
	r := NewCommandRegistry()
	resp := r.RegisterResponse("status", "")
	data := []byte{}
	if err := r.Dispatch(resp, &data); err != ErrUnknownCommand {
		t.Errorf("dispatching a response: expected ErrUnknownCommand, got %v", err)
	}
	if err := r.Dispatch(42, &data); err != ErrUnknownCommand {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
	if again := r.RegisterResponse("status", ""); again != resp {
		t.Errorf("re-registration changed ID %d -> %d", resp, again)
	}
}
