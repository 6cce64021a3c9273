package clusters

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/tlv"
)

// testResponse implements Response for testing.
type testResponse struct {
	Code    uint8
	Message string
	Extra   *uint32
}

func (r *testResponse) CommandID() datamodel.CommandID { return 0x01 }

func (r *testResponse) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(r.Code)); err != nil {
		return err
	}
	if err := w.PutString(tlv.ContextTag(1), r.Message); err != nil {
		return err
	}
	if err := PutOptionalUint(w, tlv.ContextTag(2), r.Extra); err != nil {
		return err
	}
	return w.EndContainer()
}

// testRequest implements TLVUnmarshaler for testing.
type testRequest struct {
	Value uint32
	Name  string
	Extra *uint32
}

func (r *testRequest) UnmarshalTLV(rd *tlv.Reader) error {
	return ReadStruct(rd, func(tag uint8) error {
		switch tag {
		case 0:
			v, err := rd.Uint()
			if err != nil {
				return err
			}
			r.Value = uint32(v)
		case 1:
			s, err := rd.String()
			if err != nil {
				return err
			}
			r.Name = s
		case 2:
			v, err := rd.Uint()
			if err != nil {
				return err
			}
			x := uint32(v)
			r.Extra = &x
		}
		return nil
	})
}

func encodeTestRequest(t *testing.T, value uint64, name string, unknown bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(w.StartStructure(tlv.Anonymous()))
	must(w.PutUint(tlv.ContextTag(0), value))
	if unknown {
		must(w.StartList(tlv.ContextTag(7)))
		must(w.PutBool(tlv.Anonymous(), true))
		must(w.EndContainer())
	}
	must(w.PutString(tlv.ContextTag(1), name))
	must(w.EndContainer())
	return buf.Bytes()
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		unknown bool
	}{
		{"plain", false},
		{"skips unknown fields", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodeTestRequest(t, 42, "hello", tt.unknown)

			var req testRequest
			if err := DecodeRequest(data, &req); err != nil {
				t.Fatalf("DecodeRequest() error = %v", err)
			}
			if req.Value != 42 || req.Name != "hello" || req.Extra != nil {
				t.Errorf("decoded %+v", req)
			}
		})
	}
}

func TestDecodeRequest_Empty(t *testing.T) {
	var req testRequest
	if err := DecodeRequest(nil, &req); err != nil {
		t.Errorf("DecodeRequest(nil) error = %v", err)
	}
}

func TestDecodeRequest_NotStruct(t *testing.T) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.PutUint(tlv.Anonymous(), 1); err != nil {
		t.Fatal(err)
	}

	var req testRequest
	err := DecodeRequest(buf.Bytes(), &req)
	if !errors.Is(err, datamodel.ErrInvalidCommand) {
		t.Errorf("DecodeRequest() error = %v, want ErrInvalidCommand", err)
	}
}

func TestDecodeRequest_Truncated(t *testing.T) {
	data := encodeTestRequest(t, 1, "x", false)

	var req testRequest
	if err := DecodeRequest(data[:len(data)-1], &req); err == nil {
		t.Error("DecodeRequest() on truncated input succeeded")
	}
}

func TestEncodeResponse(t *testing.T) {
	extra := uint32(9)
	data, err := EncodeResponse(&testResponse{Code: 3, Message: "ok", Extra: &extra})
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}

	// The response layout matches the request layout used above.
	var got testRequest
	if err := DecodeRequest(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Value != 3 || got.Name != "ok" || got.Extra == nil || *got.Extra != 9 {
		t.Errorf("decoded %+v", got)
	}

	data, err = EncodeResponse(nil)
	if err != nil || data != nil {
		t.Errorf("EncodeResponse(nil) = %v, %v", data, err)
	}
}

func TestPutOptional(t *testing.T) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := PutOptionalUint[uint16](w, tlv.ContextTag(0), nil); err != nil {
		t.Fatal(err)
	}
	if err := PutOptionalString(w, tlv.ContextTag(1), nil); err != nil {
		t.Fatal(err)
	}
	if err := PutOptionalBytes(w, tlv.ContextTag(2), nil); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("unset optionals wrote %d bytes", buf.Len())
	}

	s := "v1"
	if err := PutOptionalString(w, tlv.ContextTag(1), &s); err != nil {
		t.Fatal(err)
	}
	if err := PutOptionalBytes(w, tlv.ContextTag(2), []byte{}); err != nil {
		t.Fatal(err)
	}

	r := tlv.NewReader(buf.Bytes())
	if err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if v, err := r.String(); err != nil || v != "v1" {
		t.Errorf("String() = %q, %v", v, err)
	}
	if err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if v, err := r.Bytes(); err != nil || len(v) != 0 {
		t.Errorf("Bytes() = %v, %v", v, err)
	}
}
