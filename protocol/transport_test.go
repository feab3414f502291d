package protocol

import (
	"errors"
	"testing"
)

type recordedCall struct {
	id  uint16
	arg uint32
}

func newRecordingTransport() (*Transport, *ScratchOutput, *[]recordedCall) {
	out := NewScratchOutput()
	calls := &[]recordedCall{}
	tr := NewTransport(out, func(id uint16, data *[]byte) error {
		if id == 99 {
			return errors.New("rejected")
		}
		arg, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		*calls = append(*calls, recordedCall{id, arg})
		return nil
	})
	return tr, out, calls
}

func commandBlock(t *testing.T, seq uint8, cmds ...recordedCall) []byte {
	t.Helper()
	out := NewScratchOutput()
	AppendFrame(out, seq, func(o OutputBuffer) {
		for _, c := range cmds {
			EncodeVLQUint(o, uint32(c.id))
			EncodeVLQUint(o, c.arg)
		}
	})
	return append([]byte(nil), out.Result()...)
}

func lastAck(t *testing.T, out *ScratchOutput) uint8 {
	t.Helper()
	data := out.Result()
	var seq uint8
	found := false
	s := frameScanner{synced: true}
	s.scan(data, func(m Message) {
		if len(m.Payload) == 0 {
			seq = m.Sequence
			found = true
		}
	}, nil)
	if !found {
		t.Fatalf("no ACK in output %x", data)
	}
	return seq
}

func TestTransportDispatchesInSequenceBlocks(t *testing.T) {
	tr, out, calls := newRecordingTransport()

	block := commandBlock(t, MessageDest, recordedCall{4, 5000}, recordedCall{6, 2})
	tr.Receive(NewSliceInputBuffer(block))

	if len(*calls) != 2 || (*calls)[0] != (recordedCall{4, 5000}) || (*calls)[1] != (recordedCall{6, 2}) {
		t.Fatalf("calls %v", *calls)
	}
	if seq := lastAck(t, out); seq != MessageDest|1 {
		t.Errorf("ACK seq 0x%02x, expected 0x11", seq)
	}
}

func TestTransportNaksOutOfSequence(t *testing.T) {
	tr, out, calls := newRecordingTransport()
	tr.Receive(NewSliceInputBuffer(commandBlock(t, MessageDest, recordedCall{4, 1})))
	out.Reset()

	// skip 0x11
	tr.Receive(NewSliceInputBuffer(commandBlock(t, MessageDest|2, recordedCall{4, 2})))
	if len(*calls) != 1 {
		t.Errorf("out-of-sequence block was dispatched: %v", *calls)
	}
	if seq := lastAck(t, out); seq != MessageDest|1 {
		t.Errorf("NAK seq 0x%02x, expected 0x11", seq)
	}
}

func TestTransportHostRestart(t *testing.T) {
	tr, _, calls := newRecordingTransport()
	resets := 0
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(commandBlock(t, MessageDest, recordedCall{4, 1})))
	tr.Receive(NewSliceInputBuffer(commandBlock(t, MessageDest|1, recordedCall{4, 2})))
	tr.Receive(NewSliceInputBuffer(commandBlock(t, MessageDest, recordedCall{4, 3})))

	if resets != 1 {
		t.Errorf("resets = %d, expected 1", resets)
	}
	if len(*calls) != 3 {
		t.Errorf("calls %v, expected 3", *calls)
	}
}

func TestTransportHandlerErrorStopsBlock(t *testing.T) {
	tr, _, calls := newRecordingTransport()
	block := commandBlock(t, MessageDest, recordedCall{99, 0}, recordedCall{4, 1})
	tr.Receive(NewSliceInputBuffer(block))

	if len(*calls) != 0 {
		t.Errorf("command after failing handler ran: %v", *calls)
	}
	if st := tr.Stats(); st.HandlerErrors != 1 || st.Received != 1 {
		t.Errorf("stats %+v", st)
	}
}

func TestTransportSendCommand(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)
	tr.SendCommand(3, func(o OutputBuffer) { EncodeVLQInt(o, -42) })

	msg, err := ParseFrame(out.Result(), true)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	payload := msg.Payload
	id, _ := DecodeVLQUint(&payload)
	v, _ := DecodeVLQInt(&payload)
	if id != 3 || v != -42 {
		t.Errorf("decoded id %d value %d", id, v)
	}
}

func TestTransportFlushesBeforeOverflow(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)
	var wire []byte
	flushes := 0
	tr.SetFlushCallback(func() {
		flushes++
		wire = append(wire, out.Result()...)
		out.Reset()
	})

	const n = 100
	for i := 0; i < n; i++ {
		tr.SendCommand(7, func(o OutputBuffer) { EncodeVLQUint(o, uint32(i)*100000) })
	}
	wire = append(wire, out.Result()...)

	if flushes == 0 {
		t.Fatal("output never flushed")
	}
	got := 0
	s := frameScanner{synced: true}
	s.scan(wire, func(m Message) {
		payload := m.Payload
		DecodeVLQUint(&payload)
		v, _ := DecodeVLQUint(&payload)
		if v != uint32(got)*100000 {
			t.Errorf("message %d carries %d", got, v)
		}
		got++
	}, nil)
	if got != n {
		t.Errorf("decoded %d of %d messages", got, n)
	}
}
