// Package protocol implements the host side of the Klipper serial protocol:
// VLQ argument encoding, message blocks, and the command transport used to
// talk to an MCU.
package protocol

// Message block layout: [len][seq][payload...][crc_hi][crc_lo][sync]
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	// Message sequence masks
	MessageSeqMask = 0x0F
)

// Fixed command IDs every Klipper MCU understands before its dictionary is
// known
const (
	CmdIdentifyResponse = 0
	CmdIdentify         = 1
)
