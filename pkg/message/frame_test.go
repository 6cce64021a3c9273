package message

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameEncodeDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name: "minimal",
			frame: Frame{
				Header:   MessageHeader{MessageCounter: 1},
				Protocol: ProtocolHeader{ProtocolID: ProtocolBDX, ProtocolOpcode: 0x01, ExchangeID: 7, Initiator: true},
			},
		},
		{
			name: "source and destination",
			frame: Frame{
				Header: MessageHeader{
					MessageCounter:     0x01020304,
					SourceNodeID:       0x1000,
					SourcePresent:      true,
					DestinationNodeID:  0x2000,
					DestinationPresent: true,
				},
				Protocol: ProtocolHeader{
					ProtocolID:          ProtocolSecureChannel,
					ProtocolOpcode:      0x40,
					ExchangeID:          0xBEEF,
					Acknowledgement:     true,
					AckedMessageCounter: 99,
					Reliability:         true,
				},
				Payload: []byte{1, 2, 3, 4},
			},
		},
		{
			name: "vendor protocol",
			frame: Frame{
				Header:   MessageHeader{MessageCounter: 5},
				Protocol: ProtocolHeader{ProtocolID: ProtocolForTesting, ProtocolVendorID: 0xFFF1, VendorPresent: true},
				Payload:  bytes.Repeat([]byte{0xAA}, 1024),
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.frame.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Header != tc.frame.Header {
				t.Errorf("header = %+v, want %+v", got.Header, tc.frame.Header)
			}
			wantProto := tc.frame.Protocol
			if !wantProto.VendorPresent {
				wantProto.ProtocolVendorID = VendorIDMatter
			}
			if got.Protocol != wantProto {
				t.Errorf("protocol = %+v, want %+v", got.Protocol, wantProto)
			}
			if !bytes.Equal(got.Payload, tc.frame.Payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got.Payload), len(tc.frame.Payload))
			}
		})
	}
}

func TestHeaderWireLayout(t *testing.T) {
	h := MessageHeader{MessageCounter: 0x04030201, SourceNodeID: 0x1122334455667788, SourcePresent: true}
	buf := make([]byte, h.Size())
	n := h.EncodeTo(buf)
	if n != 16 {
		t.Fatalf("EncodeTo wrote %d bytes, want 16", n)
	}
	want := []byte{
		0x04,       // flags: S set, DSIZ none
		0x00, 0x00, // session ID
		0x00,                   // security flags
		0x01, 0x02, 0x03, 0x04, // counter
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
	}
	if !bytes.Equal(buf, want) {
		t.Errorf("EncodeTo = % X, want % X", buf, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short header", []byte{0x00, 0x00}, ErrMessageTooShort},
		{"bad version", []byte{0x10, 0, 0, 0, 0, 0, 0, 0}, ErrInvalidVersion},
		{"group DSIZ", []byte{0x02, 0, 0, 0, 0, 0, 0, 0}, ErrInvalidDSIZ},
		{"secured session", []byte{0x00, 0x01, 0x00, 0, 0, 0, 0, 0}, ErrSecuredFrame},
		{"missing source", []byte{0x04, 0, 0, 0, 0, 0, 0, 0, 1, 2}, ErrMessageTooShort},
		{"short protocol header", []byte{0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x01}, ErrPayloadTooShort},
		{"too long", make([]byte, MaxMessageSize+1), ErrMessageTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); !errors.Is(err, tc.want) {
				t.Errorf("Decode() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEncodeTooLong(t *testing.T) {
	f := Frame{Payload: make([]byte, MaxMessageSize)}
	if _, err := f.Encode(); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("Encode() error = %v, want ErrMessageTooLong", err)
	}
}

func TestMessageTypeIs(t *testing.T) {
	mt := MessageType{ProtocolID: ProtocolBDX, Opcode: 0x11}
	if !mt.Is(ProtocolBDX, 0x11) {
		t.Error("Is(BDX, 0x11) = false")
	}
	if mt.Is(ProtocolSecureChannel, 0x11) {
		t.Error("Is(SecureChannel, 0x11) = true")
	}
}
