package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAckTimeout bounds how long SendCommand waits for the device ACK.
const DefaultAckTimeout = 2 * time.Second

var ErrTransportClosed = errors.New("transport closed")

// ResponseHandler is called from the read goroutine for every response.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host side of the link. Commands are sent one block
// at a time and each waits for its ACK; responses are delivered through
// ReceiveResponse and an optional handler.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq uint32

	scanner frameScanner
	input   *FifoBuffer

	ackChan      chan Message
	responseChan chan Message

	handlerMu       sync.Mutex
	responseHandler ResponseHandler

	writeMu sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport starts reading from port in a background goroutine.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		scanner:      frameScanner{synced: true},
		input:        NewFifoBuffer(1024),
		ackChan:      make(chan Message, 1),
		responseChan: make(chan Message, 64),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends one command and waits for the device ACK.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout is SendCommand with an explicit ACK timeout.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	msg, err := BuildCommand(seq, cmdID, args)
	if err != nil {
		return err
	}
	if _, err := t.port.Write(msg); err != nil {
		return fmt.Errorf("write command %d: %w", cmdID, err)
	}
	if err := t.waitForAck(seq, timeout); err != nil {
		return fmt.Errorf("command %d: %w", cmdID, err)
	}
	return nil
}

// BuildCommand encodes a single-command block with the given sequence.
func BuildCommand(seq uint8, cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	AppendFrame(scratch, seq, func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
	out := scratch.Result()
	if len(out) > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", len(out), MessageLengthMax)
	}
	msg := make([]byte, len(out))
	copy(msg, out)
	return msg, nil
}

func (t *HostTransport) waitForAck(sent uint8, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	want := nextSequence(sent)
	for {
		select {
		case ack := <-t.ackChan:
			if ack.Sequence != want {
				// stale ACK or NAK for an earlier block
				continue
			}
			atomic.StoreUint32(&t.currentSeq, uint32(want))
			return nil
		case <-timer.C:
			return fmt.Errorf("ACK timeout after %v", timeout)
		case <-t.stopChan:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse returns the next response block.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-timer.C:
		return Message{}, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return Message{}, ErrTransportClosed
	}
}

// SetResponseHandler installs a callback run for every response.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buf := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err == io.EOF {
			return
		}
		if err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}
		t.input.Write(buf[:n])
		consumed := t.scanner.scan(t.input.Data(), t.dispatch, nil)
		t.input.Pop(consumed)
	}
}

func (t *HostTransport) dispatch(msg Message) {
	// Payload aliases the receive ring, which is reused.
	msg.Payload = append([]byte(nil), msg.Payload...)

	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
			// drop the older ACK; only the newest sequence matters
			select {
			case <-t.ackChan:
			default:
			}
			t.ackChan <- msg
		}
		return
	}

	t.handlerMu.Lock()
	handler := t.responseHandler
	t.handlerMu.Unlock()
	if handler != nil {
		data := msg.Payload
		if id, err := DecodeVLQUint(&data); err == nil {
			_ = handler(uint16(id), &data)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// full: drop the oldest so a slow reader sees recent state
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Drain discards responses that were not read.
func (t *HostTransport) Drain() {
	for {
		select {
		case <-t.responseChan:
		default:
			return
		}
	}
}

// FramingErrors returns how many corrupt blocks were skipped.
func (t *HostTransport) FramingErrors() uint32 {
	return atomic.LoadUint32(&t.scanner.errors)
}

// CurrentSequence returns the sequence of the next block to send.
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}

// Close stops the read goroutine and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			// closing the port unblocks a pending Read
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}
