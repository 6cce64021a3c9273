package clusters

import (
	"bytes"
	"errors"

	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/tlv"
)

// TLV encoding/decoding errors.
var (
	ErrInvalidRequest = errors.New("clusters: invalid command request")
	ErrMissingField   = errors.New("clusters: missing required field")
)

// TLVUnmarshaler is implemented by types that can unmarshal from TLV.
// Command request structs implement this interface.
type TLVUnmarshaler interface {
	UnmarshalTLV(r *tlv.Reader) error
}

// TLVMarshaler is implemented by types that can marshal to TLV.
// Command response structs implement this interface.
type TLVMarshaler interface {
	MarshalTLV(w *tlv.Writer) error
}

// Response is a response command payload.
type Response interface {
	TLVMarshaler

	// CommandID is the ID of the response command.
	CommandID() datamodel.CommandID
}

// EncodeResponse encodes a command response that implements TLVMarshaler.
func EncodeResponse(resp TLVMarshaler) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}

	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := resp.MarshalTLV(w); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeRequest decodes a command request into a TLVUnmarshaler.
func DecodeRequest(data []byte, req TLVUnmarshaler) error {
	if len(data) == 0 {
		return nil // Empty request is valid for commands with no fields
	}
	return req.UnmarshalTLV(tlv.NewReader(data))
}

// ReadStruct enters the anonymous structure at the reader's next element
// and calls field for every context-tagged member. Members with other tags
// are skipped. field must consume the current element's value only.
func ReadStruct(r *tlv.Reader, field func(tag uint8) error) error {
	if err := r.Next(); err != nil {
		return err
	}
	if r.Type() != tlv.ElementTypeStruct {
		return datamodel.ErrInvalidCommand
	}
	if err := r.EnterContainer(); err != nil {
		return err
	}

	for {
		if err := r.Next(); err != nil {
			return err
		}
		if r.IsEndOfContainer() {
			break
		}

		tag := r.Tag()
		if !tag.IsContext() {
			continue
		}
		if err := field(uint8(tag.TagNumber())); err != nil {
			return err
		}
	}

	return r.ExitContainer()
}

// PutOptionalUint writes v under tag when it is set.
func PutOptionalUint[T ~uint8 | ~uint16 | ~uint32 | ~uint64](w *tlv.Writer, tag tlv.Tag, v *T) error {
	if v == nil {
		return nil
	}
	return w.PutUint(tag, uint64(*v))
}

// PutOptionalString writes v under tag when it is set.
func PutOptionalString(w *tlv.Writer, tag tlv.Tag, v *string) error {
	if v == nil {
		return nil
	}
	return w.PutString(tag, *v)
}

// PutOptionalBytes writes v under tag when it is non-nil.
func PutOptionalBytes(w *tlv.Writer, tag tlv.Tag, v []byte) error {
	if v == nil {
		return nil
	}
	return w.PutBytes(tag, v)
}
