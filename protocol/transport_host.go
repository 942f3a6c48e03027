package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultAckTimeout bounds how long SendCommand waits for the MCU to
// acknowledge a block
const DefaultAckTimeout = 2 * time.Second

var ErrTransportClosed = errors.New("transport stopped")

// ResponseHandler is a function type for handling received responses from MCU
type ResponseHandler func(cmdID uint16, data []byte)

// HostTransport handles the Klipper protocol from the host side: it sends
// commands, waits for ACKs and collects responses
type HostTransport struct {
	port   io.ReadWriteCloser
	logger *zap.Logger

	// Sequence of the next block we send (0x10-0x1F)
	currentSeq uint32

	// Unparsed input, owned by the read loop
	pending  []byte
	readMu   sync.Mutex
	dropped  uint64
	received uint64

	// Every received block acknowledges up to its sequence
	ackChan      chan uint8
	responseChan chan *Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	// One command in flight at a time
	sendMu sync.Mutex

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
}

// NewHostTransport creates a new host-side transport and starts its reader.
// A nil logger disables logging.
func NewHostTransport(port io.ReadWriteCloser, logger *zap.Logger) *HostTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &HostTransport{
		port:         port,
		logger:       logger,
		currentSeq:   MessageDest,
		pending:      make([]byte, 0, 2*MessageLengthMax),
		ackChan:      make(chan uint8, 4),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// SendCommand sends an encoded command payload and waits for the MCU to
// acknowledge it
func (t *HostTransport) SendCommand(payload []byte) error {
	return t.SendCommandWithTimeout(payload, DefaultAckTimeout)
}

// SendCommandWithTimeout sends a command with a custom ACK timeout
func (t *HostTransport) SendCommandWithTimeout(payload []byte, timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	seq := t.GetCurrentSequence()
	block, err := EncodeMessage(seq, payload)
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}

	if err := t.writeBlock(block); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	next := ((seq + 1) & MessageSeqMask) | MessageDest
	if err := t.waitForAck(next, timeout); err != nil {
		return err
	}
	atomic.StoreUint32(&t.currentSeq, uint32(next))
	return nil
}

func (t *HostTransport) writeBlock(block []byte) error {
	n, err := t.port.Write(block)
	if err != nil {
		return err
	}
	if n != len(block) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(block))
	}
	t.logger.Debug("sent block",
		zap.Uint8("seq", block[MessagePositionSeq]),
		zap.Int("len", len(block)))
	return nil
}

// waitForAck waits until a block carrying the expected next sequence arrives
func (t *HostTransport) waitForAck(expected uint8, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case seq := <-t.ackChan:
			if seq == expected {
				return nil
			}
			t.logger.Debug("ignoring stale ack",
				zap.Uint8("expected", expected),
				zap.Uint8("got", seq))

		case <-timer.C:
			return fmt.Errorf("ACK timeout after %v", timeout)

		case <-t.stopChan:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse receives a response message with timeout
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil

	case <-timer.C:
		return nil, fmt.Errorf("response timeout after %v", timeout)

	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler sets a callback for handling responses asynchronously.
// Responses are still queued for ReceiveResponse.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

// readLoop continuously reads from the port and processes blocks
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		n, err := t.port.Read(buffer)
		if n > 0 {
			t.processInput(buffer[:n])
		}
		if err != nil {
			select {
			case <-t.stopChan:
				return
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.logger.Info("serial port closed", zap.Error(err))
				return
			}
			t.logger.Warn("serial read failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// processInput appends data and dispatches every complete block
func (t *HostTransport) processInput(data []byte) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	t.pending = append(t.pending, data...)

	for len(t.pending) > 0 {
		// Leading sync bytes separate blocks
		if t.pending[0] == MessageValueSync {
			t.pending = t.pending[1:]
			continue
		}

		msg, n, err := ParseMessage(t.pending)
		if errors.Is(err, ErrIncomplete) {
			break
		}
		if err != nil {
			t.resync()
			continue
		}

		t.pending = t.pending[n:]
		t.received++
		t.dispatchMessage(msg)
	}

	// Compact so the backing array does not grow without bound
	t.pending = append(t.pending[:0:0], t.pending...)
}

// resync discards input up to and including the next sync byte
func (t *HostTransport) resync() {
	t.dropped++
	for i, b := range t.pending {
		if b == MessageValueSync {
			t.logger.Debug("discarding corrupt input", zap.Int("bytes", i+1))
			t.pending = t.pending[i+1:]
			return
		}
	}
	t.pending = t.pending[:0]
}

// dispatchMessage signals the ACK waiter and queues any response
func (t *HostTransport) dispatchMessage(msg *Message) {
	select {
	case t.ackChan <- msg.Sequence:
	default:
		// Nobody is waiting; a stale ack is worthless
		select {
		case <-t.ackChan:
		default:
		}
		t.ackChan <- msg.Sequence
	}

	if len(msg.Payload) == 0 {
		return
	}

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		data := msg.Payload
		if cmdID, err := DecodeVLQUint(&data); err == nil {
			handler(uint16(cmdID), data)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// Response channel full, drop oldest
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
		t.logger.Warn("response queue overflow")
	}
}

// Close stops the transport and closes the serial port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset resets the transport state (useful after errors)
func (t *HostTransport) Reset() {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	atomic.StoreUint32(&t.currentSeq, MessageDest)

	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}

	t.readMu.Lock()
	t.pending = t.pending[:0]
	t.readMu.Unlock()
}

// GetCurrentSequence returns the sequence of the next block to be sent
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}

// Stats returns the number of blocks received and the number of corrupt
// regions skipped
func (t *HostTransport) Stats() (received, dropped uint64) {
	t.readMu.Lock()
	defer t.readMu.Unlock()
	return t.received, t.dropped
}
