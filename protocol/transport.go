package protocol

import "sync/atomic"

// CommandHandler decodes and runs one command. data points just past the
// command ID and must be advanced past the command's arguments.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the device side of the link. It acknowledges every block,
// runs the commands of in-sequence blocks and frames outgoing responses.
type Transport struct {
	scanner frameScanner

	// expected sequence of the next host block; also stamped on every
	// block we send, so an ACK names the block the host should send next
	nextSequence uint32

	output  OutputBuffer
	handler CommandHandler

	resetCallback func()
	flushCallback func()

	received      uint32
	handlerErrors uint32
}

// NewTransport creates a synchronized transport expecting sequence 0.
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		scanner:      frameScanner{synced: true, checkDest: true},
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive consumes as many complete blocks as input holds.
func (t *Transport) Receive(input InputBuffer) {
	n := t.scanner.scan(input.Data(), t.handleBlock, t.encodeAckNak)
	if n > 0 {
		input.Pop(n)
	}
}

func (t *Transport) handleBlock(msg Message) {
	expected := uint8(atomic.LoadUint32(&t.nextSequence))
	if msg.Sequence == MessageDest && expected != MessageDest {
		// host restarted its sequence
		expected = MessageDest
		atomic.StoreUint32(&t.nextSequence, MessageDest)
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}
	if msg.Sequence == expected {
		atomic.StoreUint32(&t.nextSequence, uint32(nextSequence(expected)))
		atomic.AddUint32(&t.received, 1)
		t.dispatch(msg.Payload)
	}
	// A block out of sequence is answered too: the ACK carries the expected
	// sequence and acts as a NAK.
	t.encodeAckNak()
}

func (t *Transport) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.scanner.synced = false
		}
	}()
	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			t.scanner.synced = false
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(id), &payload); err != nil {
			// the rest of the block cannot be decoded reliably
			atomic.AddUint32(&t.handlerErrors, 1)
			return
		}
	}
}

// encodeAckNak writes an empty block carrying the expected sequence and
// flushes it at once; the host waits for it before reading responses.
func (t *Transport) encodeAckNak() {
	AppendFrame(t.output, uint8(atomic.LoadUint32(&t.nextSequence)), nil)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// SendCommand frames one outgoing message. When the output is too full to
// take another block it is flushed first.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	if t.flushCallback != nil && t.output.CurPosition() > MessageMax-MessageLengthMax {
		t.flushCallback()
	}
	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	AppendFrame(t.output, seq, func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on state, e.g. after a USB reconnect.
func (t *Transport) Reset() {
	t.scanner.synced = true
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback registers a function run when the host restarts.
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback registers a function that pushes output to the wire.
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// TransportStats counts link health events.
type TransportStats struct {
	Received      uint32
	FramingErrors uint32
	HandlerErrors uint32
}

// Stats returns the link counters.
func (t *Transport) Stats() TransportStats {
	return TransportStats{
		Received:      atomic.LoadUint32(&t.received),
		FramingErrors: atomic.LoadUint32(&t.scanner.errors),
		HandlerErrors: atomic.LoadUint32(&t.handlerErrors),
	}
}
