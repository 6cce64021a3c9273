package bdx

import (
	"encoding/binary"
	"math"
)

// MaxFileDesignatorLength bounds the File Designator of an init message.
const MaxFileDesignatorLength = 0xFF

// TransferInit is the body of SendInit and ReceiveInit.
//
//	PTC(1) RC(1) MaxBlockSize(2) [StartOffset(4|8)] [Length(4|8)] FDL(2) FD(FDL) Metadata
type TransferInit struct {
	TransferCtlFlags TransferControlFlags
	MaxBlockSize     uint16
	StartOffset      uint64
	MaxLength        uint64 // 0 means indefinite
	FileDesignator   []byte
	Metadata         []byte
}

// Encode serializes the init message.
func (m *TransferInit) Encode() []byte {
	wide := m.StartOffset > math.MaxUint32 || m.MaxLength > math.MaxUint32
	var rc RangeControlFlags
	if m.MaxLength > 0 {
		rc |= RangeDefLen
	}
	if m.StartOffset > 0 {
		rc |= RangeStartOffset
	}
	if wide {
		rc |= RangeWide
	}

	buf := make([]byte, 0, 24+len(m.FileDesignator)+len(m.Metadata))
	buf = append(buf, byte(m.TransferCtlFlags), byte(rc))
	buf = binary.LittleEndian.AppendUint16(buf, m.MaxBlockSize)
	if rc&RangeStartOffset != 0 {
		buf = appendRangeField(buf, m.StartOffset, wide)
	}
	if rc&RangeDefLen != 0 {
		buf = appendRangeField(buf, m.MaxLength, wide)
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.FileDesignator)))
	buf = append(buf, m.FileDesignator...)
	return append(buf, m.Metadata...)
}

// DecodeTransferInit parses a SendInit or ReceiveInit body.
func DecodeTransferInit(data []byte) (*TransferInit, error) {
	r := byteReader{data: data}
	m := &TransferInit{}
	m.TransferCtlFlags = TransferControlFlags(r.u8())
	rc := RangeControlFlags(r.u8())
	m.MaxBlockSize = r.u16()
	wide := rc&RangeWide != 0
	if rc&RangeStartOffset != 0 {
		m.StartOffset = r.rangeField(wide)
	}
	if rc&RangeDefLen != 0 {
		m.MaxLength = r.rangeField(wide)
	}
	fdl := int(r.u16())
	m.FileDesignator = r.bytes(fdl)
	m.Metadata = r.rest()
	if r.short {
		return nil, ErrMessageTooShort
	}
	return m, nil
}

// SendAccept is the body of a SendAccept message.
//
//	TC(1) MaxBlockSize(2) Metadata
type SendAccept struct {
	TransferCtlFlags TransferControlFlags
	MaxBlockSize     uint16
	Metadata         []byte
}

// Encode serializes the message.
func (m *SendAccept) Encode() []byte {
	buf := make([]byte, 0, 3+len(m.Metadata))
	buf = append(buf, byte(m.TransferCtlFlags))
	buf = binary.LittleEndian.AppendUint16(buf, m.MaxBlockSize)
	return append(buf, m.Metadata...)
}

// DecodeSendAccept parses a SendAccept body.
func DecodeSendAccept(data []byte) (*SendAccept, error) {
	r := byteReader{data: data}
	m := &SendAccept{
		TransferCtlFlags: TransferControlFlags(r.u8()),
		MaxBlockSize:     r.u16(),
	}
	m.Metadata = r.rest()
	if r.short {
		return nil, ErrMessageTooShort
	}
	return m, nil
}

// ReceiveAccept is the body of a ReceiveAccept message.
//
//	TC(1) RC(1) MaxBlockSize(2) [Length(4|8)] Metadata
type ReceiveAccept struct {
	TransferCtlFlags TransferControlFlags
	MaxBlockSize     uint16
	Length           uint64 // 0 means indefinite
	Metadata         []byte
}

// Encode serializes the message.
func (m *ReceiveAccept) Encode() []byte {
	var rc RangeControlFlags
	wide := m.Length > math.MaxUint32
	if m.Length > 0 {
		rc |= RangeDefLen
	}
	if wide {
		rc |= RangeWide
	}
	buf := make([]byte, 0, 12+len(m.Metadata))
	buf = append(buf, byte(m.TransferCtlFlags), byte(rc))
	buf = binary.LittleEndian.AppendUint16(buf, m.MaxBlockSize)
	if rc&RangeDefLen != 0 {
		buf = appendRangeField(buf, m.Length, wide)
	}
	return append(buf, m.Metadata...)
}

// DecodeReceiveAccept parses a ReceiveAccept body.
func DecodeReceiveAccept(data []byte) (*ReceiveAccept, error) {
	r := byteReader{data: data}
	m := &ReceiveAccept{TransferCtlFlags: TransferControlFlags(r.u8())}
	rc := RangeControlFlags(r.u8())
	m.MaxBlockSize = r.u16()
	if rc&RangeDefLen != 0 {
		m.Length = r.rangeField(rc&RangeWide != 0)
	}
	m.Metadata = r.rest()
	if r.short {
		return nil, ErrMessageTooShort
	}
	return m, nil
}

// CounterMessage is the body of BlockQuery, BlockAck and BlockAckEOF.
type CounterMessage struct {
	BlockCounter uint32
}

// Encode serializes the message.
func (m *CounterMessage) Encode() []byte {
	return binary.LittleEndian.AppendUint32(nil, m.BlockCounter)
}

// DecodeCounterMessage parses a counter-only body.
func DecodeCounterMessage(data []byte) (*CounterMessage, error) {
	if len(data) < 4 {
		return nil, ErrMessageTooShort
	}
	return &CounterMessage{BlockCounter: binary.LittleEndian.Uint32(data)}, nil
}

// BlockQueryWithSkip is the body of a BlockQueryWithSkip message.
type BlockQueryWithSkip struct {
	BlockCounter uint32
	BytesToSkip  uint64
}

// Encode serializes the message.
func (m *BlockQueryWithSkip) Encode() []byte {
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, 12), m.BlockCounter)
	return binary.LittleEndian.AppendUint64(buf, m.BytesToSkip)
}

// DecodeBlockQueryWithSkip parses a BlockQueryWithSkip body.
func DecodeBlockQueryWithSkip(data []byte) (*BlockQueryWithSkip, error) {
	if len(data) < 12 {
		return nil, ErrMessageTooShort
	}
	return &BlockQueryWithSkip{
		BlockCounter: binary.LittleEndian.Uint32(data),
		BytesToSkip:  binary.LittleEndian.Uint64(data[4:]),
	}, nil
}

// DataBlock is the body of Block and BlockEOF.
type DataBlock struct {
	BlockCounter uint32
	Data         []byte
}

// Encode serializes the message.
func (m *DataBlock) Encode() []byte {
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(m.Data)), m.BlockCounter)
	return append(buf, m.Data...)
}

// DecodeDataBlock parses a Block or BlockEOF body.
func DecodeDataBlock(data []byte) (*DataBlock, error) {
	if len(data) < 4 {
		return nil, ErrMessageTooShort
	}
	return &DataBlock{
		BlockCounter: binary.LittleEndian.Uint32(data),
		Data:         append([]byte(nil), data[4:]...),
	}, nil
}

func appendRangeField(buf []byte, v uint64, wide bool) []byte {
	if wide {
		return binary.LittleEndian.AppendUint64(buf, v)
	}
	return binary.LittleEndian.AppendUint32(buf, uint32(v))
}

// byteReader is a little-endian cursor that records underflow instead of
// failing on every read.
type byteReader struct {
	data  []byte
	pos   int
	short bool
}

func (r *byteReader) take(n int) []byte {
	if r.short || r.pos+n > len(r.data) {
		r.short = true
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *byteReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *byteReader) rangeField(wide bool) uint64 {
	if wide {
		if b := r.take(8); b != nil {
			return binary.LittleEndian.Uint64(b)
		}
		return 0
	}
	if b := r.take(4); b != nil {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return 0
}

func (r *byteReader) bytes(n int) []byte {
	return append([]byte(nil), r.take(n)...)
}

func (r *byteReader) rest() []byte {
	if r.short || r.pos >= len(r.data) {
		return nil
	}
	return append([]byte(nil), r.data[r.pos:]...)
}
