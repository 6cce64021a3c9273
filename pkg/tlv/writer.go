package tlv

import (
	"encoding/binary"
	"io"
	"math"
)

// Writer encodes TLV elements to an io.Writer.
type Writer struct {
	w     io.Writer
	depth int
	buf   [9]byte
}

// NewWriter creates a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) writeHeader(elemType ElementType, tag Tag) error {
	switch tag.control {
	case TagControlAnonymous:
		w.buf[0] = byte(elemType)
		_, err := w.w.Write(w.buf[:1])
		return err
	case TagControlContext:
		w.buf[0] = byte(TagControlContext)<<tagControlShift | byte(elemType)
		w.buf[1] = byte(tag.number)
		_, err := w.w.Write(w.buf[:2])
		return err
	default:
		return ErrUnsupportedTag
	}
}

func (w *Writer) writeValue(size int, v uint64) error {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	_, err := w.w.Write(w.buf[:size])
	return err
}

// PutInt writes a signed integer using the smallest width that holds v.
func (w *Writer) PutInt(tag Tag, v int64) error {
	var t ElementType
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		t = ElementTypeInt8
	case v >= math.MinInt16 && v <= math.MaxInt16:
		t = ElementTypeInt16
	case v >= math.MinInt32 && v <= math.MaxInt32:
		t = ElementTypeInt32
	default:
		t = ElementTypeInt64
	}
	if err := w.writeHeader(t, tag); err != nil {
		return err
	}
	return w.writeValue(t.valueSize(), uint64(v))
}

// PutUint writes an unsigned integer using the smallest width that holds v.
func (w *Writer) PutUint(tag Tag, v uint64) error {
	var t ElementType
	switch {
	case v <= math.MaxUint8:
		t = ElementTypeUInt8
	case v <= math.MaxUint16:
		t = ElementTypeUInt16
	case v <= math.MaxUint32:
		t = ElementTypeUInt32
	default:
		t = ElementTypeUInt64
	}
	if err := w.writeHeader(t, tag); err != nil {
		return err
	}
	return w.writeValue(t.valueSize(), v)
}

// PutBool writes a boolean.
func (w *Writer) PutBool(tag Tag, v bool) error {
	if v {
		return w.writeHeader(ElementTypeTrue, tag)
	}
	return w.writeHeader(ElementTypeFalse, tag)
}

// PutString writes a UTF-8 string.
func (w *Writer) PutString(tag Tag, v string) error {
	return w.putString(ElementTypeUTF8_1, tag, []byte(v))
}

// PutBytes writes an octet string.
func (w *Writer) PutBytes(tag Tag, v []byte) error {
	return w.putString(ElementTypeBytes1, tag, v)
}

func (w *Writer) putString(base ElementType, tag Tag, data []byte) error {
	n := uint64(len(data))
	var t ElementType
	switch {
	case n <= math.MaxUint8:
		t = base
	case n <= math.MaxUint16:
		t = base + 1
	case n <= math.MaxUint32:
		t = base + 2
	default:
		t = base + 3
	}
	if err := w.writeHeader(t, tag); err != nil {
		return err
	}
	if err := w.writeValue(t.lengthSize(), n); err != nil {
		return err
	}
	_, err := w.w.Write(data)
	return err
}

// PutNull writes a null element.
func (w *Writer) PutNull(tag Tag) error {
	return w.writeHeader(ElementTypeNull, tag)
}

// StartStructure opens a structure container.
func (w *Writer) StartStructure(tag Tag) error { return w.start(ElementTypeStruct, tag) }

// StartArray opens an array container.
func (w *Writer) StartArray(tag Tag) error { return w.start(ElementTypeArray, tag) }

// StartList opens a list container.
func (w *Writer) StartList(tag Tag) error { return w.start(ElementTypeList, tag) }

func (w *Writer) start(t ElementType, tag Tag) error {
	if err := w.writeHeader(t, tag); err != nil {
		return err
	}
	w.depth++
	return nil
}

// EndContainer closes the innermost open container.
func (w *Writer) EndContainer() error {
	if w.depth == 0 {
		return ErrNotInContainer
	}
	w.depth--
	return w.writeHeader(ElementTypeEnd, Anonymous())
}

// ContainerDepth returns the number of open containers.
func (w *Writer) ContainerDepth() int {
	return w.depth
}
