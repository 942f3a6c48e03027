// Package mcutest provides an in-memory MCU that speaks the device side of
// the block protocol, for testing host code without hardware.
package mcutest

import (
	"errors"
	"io"
	"net"
	"sync"

	"ad568x/protocol"
)

// Handler receives each in-sequence command payload and returns the
// response payloads to send back
type Handler func(payload []byte) [][]byte

// FakeMCU answers blocks written by a host transport
type FakeMCU struct {
	conn    net.Conn
	handler Handler

	mu       sync.Mutex
	received [][]byte
	noise    []byte
	silent   bool

	nextSeq uint8
	done    chan struct{}
}

// New starts a fake MCU and returns it with the host end of the link
func New(handler Handler) (*FakeMCU, io.ReadWriteCloser) {
	hostEnd, mcuEnd := net.Pipe()
	f := &FakeMCU{
		conn:    mcuEnd,
		handler: handler,
		nextSeq: protocol.MessageDest,
		done:    make(chan struct{}),
	}
	go f.serve()
	return f, hostEnd
}

// Received returns a copy of every command payload accepted so far
func (f *FakeMCU) Received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.received))
	copy(out, f.received)
	return out
}

// SetNoise makes the MCU write b ahead of every reply
func (f *FakeMCU) SetNoise(b []byte) {
	f.mu.Lock()
	f.noise = append([]byte(nil), b...)
	f.mu.Unlock()
}

// SetSilent stops the MCU from acknowledging anything
func (f *FakeMCU) SetSilent(silent bool) {
	f.mu.Lock()
	f.silent = silent
	f.mu.Unlock()
}

// Send writes an unsolicited response payload
func (f *FakeMCU) Send(payload []byte) error {
	f.mu.Lock()
	seq := f.nextSeq
	f.mu.Unlock()
	block, err := protocol.EncodeMessage(seq, payload)
	if err != nil {
		return err
	}
	_, err = f.conn.Write(block)
	return err
}

// Close shuts the link down and waits for the server goroutine
func (f *FakeMCU) Close() error {
	err := f.conn.Close()
	<-f.done
	return err
}

func (f *FakeMCU) serve() {
	defer close(f.done)

	var pending []byte
	buf := make([]byte, 256)
	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)

		for len(pending) > 0 {
			if pending[0] == protocol.MessageValueSync {
				pending = pending[1:]
				continue
			}
			msg, used, err := protocol.ParseMessage(pending)
			if errors.Is(err, protocol.ErrIncomplete) {
				break
			}
			if err != nil {
				pending = nil
				break
			}
			pending = pending[used:]
			if werr := f.handle(msg); werr != nil {
				return
			}
		}
	}
}

func (f *FakeMCU) handle(msg *protocol.Message) error {
	f.mu.Lock()
	if f.silent {
		f.mu.Unlock()
		return nil
	}
	var responses [][]byte
	if msg.Sequence == f.nextSeq {
		f.nextSeq = ((f.nextSeq + 1) & protocol.MessageSeqMask) | protocol.MessageDest
		f.received = append(f.received, msg.Payload)
		f.mu.Unlock()
		if f.handler != nil {
			responses = f.handler(msg.Payload)
		}
		f.mu.Lock()
	}
	seq := f.nextSeq
	noise := f.noise
	f.mu.Unlock()

	out := append([]byte(nil), noise...)
	for _, payload := range responses {
		block, err := protocol.EncodeMessage(seq, payload)
		if err != nil {
			return err
		}
		out = append(out, block...)
	}
	ack, _ := protocol.EncodeMessage(seq, nil)
	out = append(out, ack...)

	_, err := f.conn.Write(out)
	return err
}
