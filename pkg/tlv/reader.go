package tlv

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Reader decodes TLV elements from a byte slice.
//
// Usage follows a cursor model: Next advances to the next element at the
// current depth, typed accessors read its value, EnterContainer/ExitContainer
// move between depths.
type Reader struct {
	data []byte
	pos  int

	has      bool
	elemType ElementType
	tag      Tag
	value    uint64 // scalar value or string length
	valuePos int    // start of string payload
	end      int    // offset just past the current element (scalars, strings)

	depth int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.data) {
		return ErrUnexpectedEOF
	}
	return nil
}

func (r *Reader) readLE(n int) uint64 {
	var b [8]byte
	copy(b[:], r.data[r.pos:r.pos+n])
	r.pos += n
	return binary.LittleEndian.Uint64(b[:])
}

// Next advances to the next element. It returns ErrUnexpectedEOF at the end
// of input; inside a container, reaching the end marker leaves the reader on
// an element of type ElementTypeEnd which IsEndOfContainer reports.
func (r *Reader) Next() error {
	if r.has {
		if err := r.skipCurrent(); err != nil {
			return err
		}
	}
	r.has = false

	if err := r.need(1); err != nil {
		return err
	}
	ctrl := r.data[r.pos]
	r.pos++

	t := ElementType(ctrl & elementTypeMask)
	if t > elementTypeMaxDefined {
		return ErrInvalidElementType
	}
	tc := TagControl(ctrl >> tagControlShift)
	if err := r.need(tc.size()); err != nil {
		return err
	}
	tag := Tag{control: tc}
	switch tc {
	case TagControlAnonymous:
	case TagControlContext:
		tag.number = uint32(r.readLE(1))
	case TagControlCommonProfile2, TagControlImplicitProfile2:
		tag.number = uint32(r.readLE(2))
	case TagControlCommonProfile4, TagControlImplicitProfile4:
		tag.number = uint32(r.readLE(4))
	case TagControlFullyQualified6:
		tag.profile = uint32(r.readLE(4))
		tag.number = uint32(r.readLE(2))
	case TagControlFullyQualified8:
		tag.profile = uint32(r.readLE(4))
		tag.number = uint32(r.readLE(4))
	}

	r.elemType = t
	r.tag = tag
	r.value = 0
	switch {
	case t.valueSize() > 0:
		if err := r.need(t.valueSize()); err != nil {
			return err
		}
		r.value = r.readLE(t.valueSize())
	case t.lengthSize() > 0:
		if err := r.need(t.lengthSize()); err != nil {
			return err
		}
		r.value = r.readLE(t.lengthSize())
		if r.value > uint64(len(r.data)-r.pos) {
			return ErrUnexpectedEOF
		}
		r.valuePos = r.pos
		r.pos += int(r.value)
	}
	r.end = r.pos
	r.has = true
	return nil
}

// skipCurrent moves past an unread container element.
func (r *Reader) skipCurrent() error {
	if !r.elemType.IsContainer() {
		return nil
	}
	r.has = false
	nested := 1
	for nested > 0 {
		if err := r.Next(); err != nil {
			return err
		}
		switch {
		case r.elemType.IsContainer():
			nested++
			r.has = false
		case r.elemType == ElementTypeEnd:
			nested--
			r.has = false
		}
	}
	return nil
}

// Type returns the current element's type.
func (r *Reader) Type() ElementType { return r.elemType }

// Tag returns the current element's tag.
func (r *Reader) Tag() Tag { return r.tag }

// IsEndOfContainer reports whether the current element closes a container.
func (r *Reader) IsEndOfContainer() bool { return r.has && r.elemType == ElementTypeEnd }

// Int returns the current signed or unsigned integer as an int64.
func (r *Reader) Int() (int64, error) {
	if !r.has {
		return 0, ErrNoElement
	}
	switch {
	case r.elemType.IsSignedInt():
		shift := 64 - 8*uint(r.elemType.valueSize())
		return int64(r.value<<shift) >> shift, nil
	case r.elemType.IsUnsignedInt():
		if r.value > math.MaxInt64 {
			return 0, ErrOverflow
		}
		return int64(r.value), nil
	}
	return 0, ErrTypeMismatch
}

// Uint returns the current unsigned (or non-negative signed) integer.
func (r *Reader) Uint() (uint64, error) {
	if !r.has {
		return 0, ErrNoElement
	}
	switch {
	case r.elemType.IsUnsignedInt():
		return r.value, nil
	case r.elemType.IsSignedInt():
		v, _ := r.Int()
		if v < 0 {
			return 0, ErrOverflow
		}
		return uint64(v), nil
	}
	return 0, ErrTypeMismatch
}

// Bool returns the current boolean.
func (r *Reader) Bool() (bool, error) {
	if !r.has {
		return false, ErrNoElement
	}
	if !r.elemType.IsBool() {
		return false, ErrTypeMismatch
	}
	return r.elemType == ElementTypeTrue, nil
}

// String returns the current UTF-8 string.
func (r *Reader) String() (string, error) {
	if !r.has {
		return "", ErrNoElement
	}
	if !r.elemType.IsUTF8String() {
		return "", ErrTypeMismatch
	}
	b := r.data[r.valuePos : r.valuePos+int(r.value)]
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// Bytes returns a copy of the current octet string.
func (r *Reader) Bytes() ([]byte, error) {
	if !r.has {
		return nil, ErrNoElement
	}
	if !r.elemType.IsBytes() {
		return nil, ErrTypeMismatch
	}
	out := make([]byte, r.value)
	copy(out, r.data[r.valuePos:])
	return out, nil
}

// IsNull reports whether the current element is null.
func (r *Reader) IsNull() bool { return r.has && r.elemType == ElementTypeNull }

// EnterContainer descends into the current container element.
func (r *Reader) EnterContainer() error {
	if !r.has {
		return ErrNoElement
	}
	if !r.elemType.IsContainer() {
		return ErrTypeMismatch
	}
	r.has = false
	r.depth++
	return nil
}

// ExitContainer skips the rest of the current container and returns to the
// parent depth.
func (r *Reader) ExitContainer() error {
	if r.depth == 0 {
		return ErrNotInContainer
	}
	if r.IsEndOfContainer() {
		r.has = false
		r.depth--
		return nil
	}
	for {
		if err := r.Next(); err != nil {
			if err == ErrUnexpectedEOF {
				return ErrContainerNotClosed
			}
			return err
		}
		if r.elemType == ElementTypeEnd {
			r.has = false
			r.depth--
			return nil
		}
	}
}

// ContainerDepth returns the current nesting depth.
func (r *Reader) ContainerDepth() int { return r.depth }
