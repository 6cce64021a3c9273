package bdx

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/matter-bdx/pkg/message"
)

// GeneralCode is the protocol-independent part of a StatusReport.
// See Matter Specification Appendix D.
type GeneralCode uint16

// General status codes.
const (
	GeneralCodeSuccess           GeneralCode = 0
	GeneralCodeFailure           GeneralCode = 1
	GeneralCodeBadPrecondition   GeneralCode = 2
	GeneralCodeOutOfRange        GeneralCode = 3
	GeneralCodeBadRequest        GeneralCode = 4
	GeneralCodeUnsupported       GeneralCode = 5
	GeneralCodeUnexpected        GeneralCode = 6
	GeneralCodeResourceExhausted GeneralCode = 7
	GeneralCodeBusy              GeneralCode = 8
	GeneralCodeTimeout           GeneralCode = 9
)

// String returns the general code name.
func (g GeneralCode) String() string {
	switch g {
	case GeneralCodeSuccess:
		return "Success"
	case GeneralCodeFailure:
		return "Failure"
	case GeneralCodeBadPrecondition:
		return "BadPrecondition"
	case GeneralCodeOutOfRange:
		return "OutOfRange"
	case GeneralCodeBadRequest:
		return "BadRequest"
	case GeneralCodeUnsupported:
		return "Unsupported"
	case GeneralCodeUnexpected:
		return "Unexpected"
	case GeneralCodeResourceExhausted:
		return "ResourceExhausted"
	case GeneralCodeBusy:
		return "Busy"
	case GeneralCodeTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("GeneralCode(%d)", uint16(g))
	}
}

// StatusCode is a BDX protocol status code (Spec Section 11.21.4).
type StatusCode uint16

// BDX status codes.
const (
	StatusLengthTooLarge             StatusCode = 0x0012
	StatusLengthTooShort             StatusCode = 0x0013
	StatusLengthMismatch             StatusCode = 0x0014
	StatusLengthRequired             StatusCode = 0x0015
	StatusBadMessageContents         StatusCode = 0x0016
	StatusBadBlockCounter            StatusCode = 0x0017
	StatusUnexpectedMessage          StatusCode = 0x0018
	StatusResponderBusy              StatusCode = 0x0019
	StatusTransferFailedUnknownError StatusCode = 0x001F
	StatusTransferMethodNotSupported StatusCode = 0x0050
	StatusFileDesignatorUnknown      StatusCode = 0x0051
	StatusStartOffsetNotSupported    StatusCode = 0x0052
	StatusVersionNotSupported        StatusCode = 0x0053
	StatusUnknown                    StatusCode = 0x005F
)

// String returns the status code name.
func (c StatusCode) String() string {
	switch c {
	case StatusLengthTooLarge:
		return "LengthTooLarge"
	case StatusLengthTooShort:
		return "LengthTooShort"
	case StatusLengthMismatch:
		return "LengthMismatch"
	case StatusLengthRequired:
		return "LengthRequired"
	case StatusBadMessageContents:
		return "BadMessageContents"
	case StatusBadBlockCounter:
		return "BadBlockCounter"
	case StatusUnexpectedMessage:
		return "UnexpectedMessage"
	case StatusResponderBusy:
		return "ResponderBusy"
	case StatusTransferFailedUnknownError:
		return "TransferFailedUnknownError"
	case StatusTransferMethodNotSupported:
		return "TransferMethodNotSupported"
	case StatusFileDesignatorUnknown:
		return "FileDesignatorUnknown"
	case StatusStartOffsetNotSupported:
		return "StartOffsetNotSupported"
	case StatusVersionNotSupported:
		return "VersionNotSupported"
	case StatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("StatusCode(0x%04X)", uint16(c))
	}
}

// StatusReportMinSize is GeneralCode(2) + ProtocolID(4) + ProtocolCode(2).
const StatusReportMinSize = 8

// StatusReport encapsulates the data in a StatusReport message.
type StatusReport struct {
	GeneralCode  GeneralCode
	ProtocolID   uint32 // VendorID (upper 16) | ProtocolID (lower 16)
	ProtocolCode uint16
	ProtocolData []byte
}

// NewStatusReport returns the failure StatusReport BDX sends for code.
func NewStatusReport(code StatusCode) *StatusReport {
	return &StatusReport{
		GeneralCode:  GeneralCodeFailure,
		ProtocolID:   uint32(message.ProtocolBDX),
		ProtocolCode: uint16(code),
	}
}

// Encode serializes the StatusReport to bytes.
func (s *StatusReport) Encode() []byte {
	buf := make([]byte, StatusReportMinSize+len(s.ProtocolData))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(s.GeneralCode))
	binary.LittleEndian.PutUint32(buf[2:6], s.ProtocolID)
	binary.LittleEndian.PutUint16(buf[6:8], s.ProtocolCode)
	copy(buf[8:], s.ProtocolData)
	return buf
}

// DecodeStatusReport parses a StatusReport from bytes.
func DecodeStatusReport(data []byte) (*StatusReport, error) {
	if len(data) < StatusReportMinSize {
		return nil, ErrStatusReportTooShort
	}
	s := &StatusReport{
		GeneralCode:  GeneralCode(binary.LittleEndian.Uint16(data[0:2])),
		ProtocolID:   binary.LittleEndian.Uint32(data[2:6]),
		ProtocolCode: binary.LittleEndian.Uint16(data[6:8]),
	}
	if len(data) > StatusReportMinSize {
		s.ProtocolData = make([]byte, len(data)-StatusReportMinSize)
		copy(s.ProtocolData, data[StatusReportMinSize:])
	}
	return s, nil
}

// IsBDX reports whether the report carries a BDX protocol code.
func (s *StatusReport) IsBDX() bool {
	return s.ProtocolID == uint32(message.ProtocolBDX)
}

// StatusCode returns the BDX status code, or StatusUnknown for reports of
// other protocols.
func (s *StatusReport) StatusCode() StatusCode {
	if !s.IsBDX() {
		return StatusUnknown
	}
	return StatusCode(s.ProtocolCode)
}

// String returns a human-readable representation.
func (s *StatusReport) String() string {
	if s.IsBDX() {
		return fmt.Sprintf("StatusReport{General: %s, Protocol: BDX, Code: %s}", s.GeneralCode, StatusCode(s.ProtocolCode))
	}
	return fmt.Sprintf("StatusReport{General: %s, ProtocolID: 0x%08X, Code: 0x%04X}", s.GeneralCode, s.ProtocolID, s.ProtocolCode)
}

// Error implements the error interface for StatusReport.
func (s *StatusReport) Error() string {
	return s.String()
}
