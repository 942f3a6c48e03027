package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete means more bytes are needed before a block can be parsed
	ErrIncomplete = errors.New("incomplete message block")

	// ErrBadBlock means the bytes at the head of the buffer are not a valid
	// block; the reader must resynchronize on the next sync byte
	ErrBadBlock = errors.New("invalid message block")
)

// Message represents a parsed Klipper message block
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Frame data without header/trailer
	CRC      uint16
}

// EncodeMessage builds a complete block with header, CRC and sync byte
func EncodeMessage(seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageLengthMin + len(payload)
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", msgLen, MessageLengthMax)
	}

	block := make([]byte, 0, msgLen)
	block = append(block, uint8(msgLen), seq)
	block = append(block, payload...)

	crc := CRC16(block)
	return append(block, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// ParseMessage parses the block at the start of data and returns it along
// with the number of bytes it occupied
func ParseMessage(data []byte) (*Message, int, error) {
	if len(data) < MessageLengthMin {
		return nil, 0, ErrIncomplete
	}

	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return nil, 0, ErrBadBlock
	}
	if len(data) < msgLen {
		return nil, 0, ErrIncomplete
	}

	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return nil, 0, ErrBadBlock
	}

	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return nil, 0, ErrBadBlock
	}

	payload := make([]byte, msgLen-MessageLengthMin)
	copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])

	return &Message{
		Length:   uint8(msgLen),
		Sequence: data[MessagePositionSeq],
		Payload:  payload,
		CRC:      frameCRC,
	}, msgLen, nil
}
