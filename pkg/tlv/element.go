// Package tlv implements the Matter TLV (Tag-Length-Value) encoding used for
// cluster command payloads and OTA image headers.
//
// The subset implemented covers what command fields and image headers use:
// signed/unsigned integers, booleans, UTF-8 and octet strings, null, and the
// three container types. Floating point elements are skipped by the reader.
//
// Spec References:
//   - Appendix A: Tag-length-value (TLV) Encoding Format
package tlv

// ElementType is the low five bits of a TLV control octet.
type ElementType uint8

// Element types (Appendix A.7).
const (
	ElementTypeInt8       ElementType = 0x00
	ElementTypeInt16      ElementType = 0x01
	ElementTypeInt32      ElementType = 0x02
	ElementTypeInt64      ElementType = 0x03
	ElementTypeUInt8      ElementType = 0x04
	ElementTypeUInt16     ElementType = 0x05
	ElementTypeUInt32     ElementType = 0x06
	ElementTypeUInt64     ElementType = 0x07
	ElementTypeFalse      ElementType = 0x08
	ElementTypeTrue       ElementType = 0x09
	ElementTypeFloat32    ElementType = 0x0A
	ElementTypeFloat64    ElementType = 0x0B
	ElementTypeUTF8_1     ElementType = 0x0C
	ElementTypeUTF8_8     ElementType = 0x0F
	ElementTypeBytes1     ElementType = 0x10
	ElementTypeBytes8     ElementType = 0x13
	ElementTypeNull       ElementType = 0x14
	ElementTypeStruct     ElementType = 0x15
	ElementTypeArray      ElementType = 0x16
	ElementTypeList       ElementType = 0x17
	ElementTypeEnd        ElementType = 0x18
	elementTypeMask       uint8       = 0x1F
	tagControlShift                   = 5
	elementTypeMaxDefined             = ElementTypeEnd
)

// String returns a short name for the element type.
func (e ElementType) String() string {
	switch {
	case e.IsSignedInt():
		return "Int"
	case e.IsUnsignedInt():
		return "UInt"
	case e.IsBool():
		return "Bool"
	case e == ElementTypeFloat32 || e == ElementTypeFloat64:
		return "Float"
	case e.IsUTF8String():
		return "UTF8String"
	case e.IsBytes():
		return "ByteString"
	case e == ElementTypeNull:
		return "Null"
	case e == ElementTypeStruct:
		return "Structure"
	case e == ElementTypeArray:
		return "Array"
	case e == ElementTypeList:
		return "List"
	case e == ElementTypeEnd:
		return "EndOfContainer"
	default:
		return "Unknown"
	}
}

// IsSignedInt reports whether e is a signed integer type.
func (e ElementType) IsSignedInt() bool { return e <= ElementTypeInt64 }

// IsUnsignedInt reports whether e is an unsigned integer type.
func (e ElementType) IsUnsignedInt() bool { return e >= ElementTypeUInt8 && e <= ElementTypeUInt64 }

// IsBool reports whether e is a boolean.
func (e ElementType) IsBool() bool { return e == ElementTypeFalse || e == ElementTypeTrue }

// IsUTF8String reports whether e is a UTF-8 string.
func (e ElementType) IsUTF8String() bool { return e >= ElementTypeUTF8_1 && e <= ElementTypeUTF8_8 }

// IsBytes reports whether e is an octet string.
func (e ElementType) IsBytes() bool { return e >= ElementTypeBytes1 && e <= ElementTypeBytes8 }

// IsContainer reports whether e opens a container.
func (e ElementType) IsContainer() bool {
	return e == ElementTypeStruct || e == ElementTypeArray || e == ElementTypeList
}

// valueSize is the fixed value width for scalar types, 0 otherwise.
func (e ElementType) valueSize() int {
	switch {
	case e.IsSignedInt():
		return 1 << e
	case e.IsUnsignedInt():
		return 1 << (e - ElementTypeUInt8)
	case e == ElementTypeFloat32:
		return 4
	case e == ElementTypeFloat64:
		return 8
	}
	return 0
}

// lengthSize is the width of the length prefix for string types, 0 otherwise.
func (e ElementType) lengthSize() int {
	switch {
	case e.IsUTF8String():
		return 1 << (e - ElementTypeUTF8_1)
	case e.IsBytes():
		return 1 << (e - ElementTypeBytes1)
	}
	return 0
}
