package message

// Frame represents a complete unsecured Matter message frame.
type Frame struct {
	Header   MessageHeader
	Protocol ProtocolHeader
	Payload  []byte // Application payload (after protocol header)
}

// Encode serializes the frame to wire format.
func (f *Frame) Encode() ([]byte, error) {
	total := f.Header.Size() + f.Protocol.Size() + len(f.Payload)
	if total > MaxMessageSize {
		return nil, ErrMessageTooLong
	}

	buf := make([]byte, total)
	offset := f.Header.EncodeTo(buf)
	offset += f.Protocol.EncodeTo(buf[offset:])
	copy(buf[offset:], f.Payload)
	return buf, nil
}

// Decode parses a frame from wire data. The payload is copied so the caller
// may reuse data.
func Decode(data []byte) (*Frame, error) {
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLong
	}

	f := &Frame{}
	headerLen, err := f.Header.Decode(data)
	if err != nil {
		return nil, err
	}
	protocolLen, err := f.Protocol.Decode(data[headerLen:])
	if err != nil {
		return nil, err
	}

	start := headerLen + protocolLen
	if len(data) > start {
		f.Payload = make([]byte, len(data)-start)
		copy(f.Payload, data[start:])
	}
	return f, nil
}
