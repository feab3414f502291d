// Package client talks to a converter board over the framed serial link.
// Command and response IDs are never hard-coded beyond the identify
// bootstrap: they are resolved from the dictionary the board serves.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"buckboost/host/serial"
	"buckboost/protocol"
)

// Bootstrap IDs fixed by the firmware registration order.
const (
	identifyResponseID = 0
	identifyID         = 1

	identifyChunk = 40
	maxChunks     = 1000
)

// DefaultTimeout bounds a query waiting for its response.
const DefaultTimeout = time.Second

var (
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownReply   = errors.New("unknown response")
)

// Dictionary is the parsed identify data.
type Dictionary struct {
	Version   string            `json:"version"`
	Config    map[string]string `json:"config"`
	Commands  map[string]int    `json:"commands"`
	Responses map[string]int    `json:"responses"`
}

// ConfigUint returns a numeric firmware constant.
func (d *Dictionary) ConfigUint(name string) (uint32, bool) {
	v, err := strconv.ParseUint(d.Config[name], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Client is a connection to one board.
type Client struct {
	transport *protocol.HostTransport

	raw       []byte
	dict      *Dictionary
	commands  map[string]*MessageFormat
	responses map[uint16]*MessageFormat

	mu   sync.Mutex
	subs map[string][]chan Response

	// Timeout bounds every query; DefaultTimeout when zero.
	Timeout time.Duration

	logger *log.Logger
}

// Dial opens the serial device and loads the dictionary.
func Dial(cfg serial.Config) (*Client, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush %s: %w", cfg.Device, err)
	}
	c := New(port)
	if err := c.Identify(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an open link. Call Identify before sending commands.
func New(port io.ReadWriteCloser) *Client {
	c := &Client{
		transport: protocol.NewHostTransport(port),
		subs:      make(map[string][]chan Response),
	}
	return c
}

// SetLogger enables tracing of every decoded response.
func (c *Client) SetLogger(l *log.Logger) {
	c.logger = l
}

// Close stops the link.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Identify downloads and parses the dictionary, then starts routing
// responses by name.
func (c *Client) Identify() error {
	var buf bytes.Buffer
	for i := 0; i < maxChunks; i++ {
		chunk, err := c.identifyChunk(uint32(buf.Len()))
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", buf.Len(), err)
		}
		buf.Write(chunk)
		if len(chunk) < identifyChunk {
			break
		}
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(buf.Bytes(), dict); err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}
	commands := make(map[string]*MessageFormat, len(dict.Commands))
	for key, id := range dict.Commands {
		f, err := ParseFormat(uint16(id), key)
		if err != nil {
			return err
		}
		commands[f.Name] = f
	}
	responses := make(map[uint16]*MessageFormat, len(dict.Responses))
	for key, id := range dict.Responses {
		f, err := ParseFormat(uint16(id), key)
		if err != nil {
			return err
		}
		responses[f.ID] = f
	}

	c.mu.Lock()
	c.raw = buf.Bytes()
	c.dict = dict
	c.commands = commands
	c.responses = responses
	c.mu.Unlock()

	c.transport.Drain()
	c.transport.SetResponseHandler(c.route)
	return nil
}

func (c *Client) identifyChunk(offset uint32) ([]byte, error) {
	err := c.transport.SendCommand(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, identifyChunk)
	})
	if err != nil {
		return nil, err
	}
	for {
		resp, err := c.transport.ReceiveResponse(c.timeout())
		if err != nil {
			return nil, err
		}
		payload := resp.Payload
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, err
		}
		if id != identifyResponseID {
			continue
		}
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, err
		}
		if got != offset {
			// late answer to an earlier request
			continue
		}
		return protocol.DecodeVLQBytes(&payload)
	}
}

// Dictionary returns the parsed dictionary, nil before Identify.
func (c *Client) Dictionary() *Dictionary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dict
}

// RawDictionary returns the dictionary text as served.
func (c *Client) RawDictionary() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

// Command returns the format of a named command.
func (c *Client) Command(name string) (*MessageFormat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dict == nil {
		return nil, ErrNoDictionary
	}
	f, ok := c.commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return f, nil
}

// ResponseFormat returns the format of a named response.
func (c *Client) ResponseFormat(name string) (*MessageFormat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dict == nil {
		return nil, ErrNoDictionary
	}
	for _, f := range c.responses {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownReply, name)
}

// Send encodes and sends one command, waiting for the link ACK.
func (c *Client) Send(name string, args Args) error {
	f, err := c.Command(name)
	if err != nil {
		return err
	}
	var encErr error
	err = c.transport.SendCommand(f.ID, func(output protocol.OutputBuffer) {
		encErr = f.Encode(output, args)
	})
	if encErr != nil {
		return encErr
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Query sends a command and waits for the named response.
func (c *Client) Query(name string, args Args, reply string) (Response, error) {
	sub := c.Subscribe(reply)
	defer c.Unsubscribe(reply, sub)

	if err := c.Send(name, args); err != nil {
		return Response{}, err
	}
	select {
	case r := <-sub:
		return r, nil
	case <-time.After(c.timeout()):
		return Response{}, fmt.Errorf("%s: no %s response after %v", name, reply, c.timeout())
	}
}

// Subscribe returns a channel receiving every response with the given
// name. A subscriber that falls behind loses the oldest responses.
func (c *Client) Subscribe(name string) chan Response {
	ch := make(chan Response, 64)
	c.mu.Lock()
	c.subs[name] = append(c.subs[name], ch)
	c.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel returned by Subscribe.
func (c *Client) Unsubscribe(name string, ch chan Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[name]
	for i, s := range subs {
		if s == ch {
			c.subs[name] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// route runs on the transport read goroutine.
func (c *Client) route(id uint16, data *[]byte) error {
	c.mu.Lock()
	f, ok := c.responses[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownReply, id)
	}
	r, err := f.Decode(data)
	if err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Printf("<- %s", f.Format(r))
	}

	c.mu.Lock()
	subs := append([]chan Response(nil), c.subs[f.Name]...)
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- r:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- r:
			default:
			}
		}
	}
	return nil
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// FramingErrors returns the number of corrupt blocks skipped by the link.
func (c *Client) FramingErrors() uint32 {
	return c.transport.FramingErrors()
}
