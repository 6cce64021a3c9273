// Package ota reads and writes Matter OTA image files and serves them to the
// OTA Provider cluster: a Catalog indexes the images in a directory and a
// FileDelegate streams them over BDX.
//
// An image file is a fixed prefix (file identifier, total size, header size),
// a TLV header and the payload:
//
//	| FileIdentifier u32 | TotalSize u64 | HeaderSize u32 | Header (TLV) | Payload |
//
// Spec Reference: Section 11.21.2
package ota

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/backkem/matter-bdx/pkg/tlv"
	"golang.org/x/crypto/sha3"
)

// FileIdentifier opens every OTA image file.
const FileIdentifier uint32 = 0x1BEEF11E

// prefixSize is the fixed part before the TLV header.
const prefixSize = 4 + 8 + 4

// maxHeaderSize bounds the TLV header a parser accepts.
const maxHeaderSize = 64 * 1024

// Header TLV limits.
const (
	MaxSoftwareVersionStringLength = 64
	MaxReleaseNotesURLLength       = 256
)

// DigestType is an IANA Named Information hash algorithm identifier.
type DigestType uint8

// Digest types.
const (
	DigestSHA256   DigestType = 1
	DigestSHA384   DigestType = 7
	DigestSHA512   DigestType = 8
	DigestSHA3_256 DigestType = 10
	DigestSHA3_384 DigestType = 11
	DigestSHA3_512 DigestType = 12
)

func (d DigestType) String() string {
	switch d {
	case DigestSHA256:
		return "sha-256"
	case DigestSHA384:
		return "sha-384"
	case DigestSHA512:
		return "sha-512"
	case DigestSHA3_256:
		return "sha3-256"
	case DigestSHA3_384:
		return "sha3-384"
	case DigestSHA3_512:
		return "sha3-512"
	default:
		return fmt.Sprintf("DigestType(%d)", uint8(d))
	}
}

// New returns a hash for the digest type.
func (d DigestType) New() (hash.Hash, error) {
	switch d {
	case DigestSHA256:
		return sha256.New(), nil
	case DigestSHA384:
		return sha512.New384(), nil
	case DigestSHA512:
		return sha512.New(), nil
	case DigestSHA3_256:
		return sha3.New256(), nil
	case DigestSHA3_384:
		return sha3.New384(), nil
	case DigestSHA3_512:
		return sha3.New512(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDigest, d)
	}
}

// Header is the TLV header of an OTA image file.
type Header struct {
	VendorID              uint16
	ProductID             uint16
	SoftwareVersion       uint32
	SoftwareVersionString string
	PayloadSize           uint64

	// MinApplicableVersion and MaxApplicableVersion bound the versions the
	// image may be applied over.
	MinApplicableVersion *uint32
	MaxApplicableVersion *uint32

	ReleaseNotesURL string
	DigestType      DigestType
	Digest          []byte
}

// Applies reports whether the image may be applied over version.
func (h *Header) Applies(version uint32) bool {
	if h.MinApplicableVersion != nil && version < *h.MinApplicableVersion {
		return false
	}
	if h.MaxApplicableVersion != nil && version > *h.MaxApplicableVersion {
		return false
	}
	return true
}

// MarshalTLV encodes the header structure.
func (h *Header) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(h.VendorID)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), uint64(h.ProductID)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(2), uint64(h.SoftwareVersion)); err != nil {
		return err
	}
	if err := w.PutString(tlv.ContextTag(3), h.SoftwareVersionString); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(4), h.PayloadSize); err != nil {
		return err
	}
	if h.MinApplicableVersion != nil {
		if err := w.PutUint(tlv.ContextTag(5), uint64(*h.MinApplicableVersion)); err != nil {
			return err
		}
	}
	if h.MaxApplicableVersion != nil {
		if err := w.PutUint(tlv.ContextTag(6), uint64(*h.MaxApplicableVersion)); err != nil {
			return err
		}
	}
	if h.ReleaseNotesURL != "" {
		if err := w.PutString(tlv.ContextTag(7), h.ReleaseNotesURL); err != nil {
			return err
		}
	}
	if err := w.PutUint(tlv.ContextTag(8), uint64(h.DigestType)); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(9), h.Digest); err != nil {
		return err
	}
	return w.EndContainer()
}

// UnmarshalTLV decodes the header structure.
func (h *Header) UnmarshalTLV(r *tlv.Reader) error {
	if err := r.Next(); err != nil {
		return err
	}
	if r.Type() != tlv.ElementTypeStruct {
		return fmt.Errorf("%w: not a structure", ErrInvalidHeader)
	}
	if err := r.EnterContainer(); err != nil {
		return err
	}

	var seen uint16
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
		n := tag.TagNumber()
		if err := h.readField(r, n); err != nil {
			return fmt.Errorf("%w: field %d: %v", ErrInvalidHeader, n, err)
		}
		if n < 16 {
			seen |= 1 << n
		}
	}
	if err := r.ExitContainer(); err != nil {
		return err
	}

	const required = 1<<0 | 1<<1 | 1<<2 | 1<<3 | 1<<4 | 1<<8 | 1<<9
	if seen&required != required {
		return fmt.Errorf("%w: missing fields", ErrInvalidHeader)
	}
	if len(h.SoftwareVersionString) == 0 || len(h.SoftwareVersionString) > MaxSoftwareVersionStringLength {
		return fmt.Errorf("%w: version string length %d", ErrInvalidHeader, len(h.SoftwareVersionString))
	}
	if len(h.ReleaseNotesURL) > MaxReleaseNotesURLLength {
		return fmt.Errorf("%w: release notes URL length %d", ErrInvalidHeader, len(h.ReleaseNotesURL))
	}
	return nil
}

func (h *Header) readField(r *tlv.Reader, tag uint32) error {
	switch tag {
	case 0, 1, 2, 4, 5, 6, 8:
		v, err := r.Uint()
		if err != nil {
			return err
		}
		switch tag {
		case 0:
			h.VendorID = uint16(v)
		case 1:
			h.ProductID = uint16(v)
		case 2:
			h.SoftwareVersion = uint32(v)
		case 4:
			h.PayloadSize = v
		case 5:
			lo := uint32(v)
			h.MinApplicableVersion = &lo
		case 6:
			hi := uint32(v)
			h.MaxApplicableVersion = &hi
		case 8:
			h.DigestType = DigestType(v)
		}
	case 3, 7:
		s, err := r.String()
		if err != nil {
			return err
		}
		if tag == 3 {
			h.SoftwareVersionString = s
		} else {
			h.ReleaseNotesURL = s
		}
	case 9:
		b, err := r.Bytes()
		if err != nil {
			return err
		}
		h.Digest = b
	}
	return nil
}

// Encode builds an image file around payload. PayloadSize and Digest are
// computed; DigestType defaults to SHA-256.
func Encode(h Header, payload []byte) ([]byte, error) {
	if h.DigestType == 0 {
		h.DigestType = DigestSHA256
	}
	d, err := h.DigestType.New()
	if err != nil {
		return nil, err
	}
	d.Write(payload)
	h.Digest = d.Sum(nil)
	h.PayloadSize = uint64(len(payload))

	var hdr bytes.Buffer
	if err := h.MarshalTLV(tlv.NewWriter(&hdr)); err != nil {
		return nil, err
	}

	total := prefixSize + hdr.Len() + len(payload)
	out := make([]byte, prefixSize, total)
	binary.LittleEndian.PutUint32(out[0:4], FileIdentifier)
	binary.LittleEndian.PutUint64(out[4:12], uint64(total))
	binary.LittleEndian.PutUint32(out[12:16], uint32(hdr.Len()))
	out = append(out, hdr.Bytes()...)
	out = append(out, payload...)
	return out, nil
}

// Prefix is the fixed part of an image file.
type Prefix struct {
	TotalSize  uint64
	HeaderSize uint32
}

// PayloadOffset is where the payload starts in the file.
func (p Prefix) PayloadOffset() int64 { return prefixSize + int64(p.HeaderSize) }

// ReadHeader reads the prefix and header from the start of an image file.
// r is left at the start of the payload.
func ReadHeader(r io.Reader) (Prefix, Header, error) {
	var raw [prefixSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Prefix{}, Header{}, fmt.Errorf("%w: prefix: %v", ErrTruncated, err)
	}
	if id := binary.LittleEndian.Uint32(raw[0:4]); id != FileIdentifier {
		return Prefix{}, Header{}, fmt.Errorf("%w: 0x%08X", ErrInvalidFileIdentifier, id)
	}
	p := Prefix{
		TotalSize:  binary.LittleEndian.Uint64(raw[4:12]),
		HeaderSize: binary.LittleEndian.Uint32(raw[12:16]),
	}
	if p.HeaderSize == 0 || p.HeaderSize > maxHeaderSize {
		return Prefix{}, Header{}, fmt.Errorf("%w: header size %d", ErrInvalidHeader, p.HeaderSize)
	}

	buf := make([]byte, p.HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Prefix{}, Header{}, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}
	var h Header
	if err := h.UnmarshalTLV(tlv.NewReader(buf)); err != nil {
		return Prefix{}, Header{}, err
	}
	if want := uint64(p.PayloadOffset()) + h.PayloadSize; p.TotalSize != want {
		return Prefix{}, Header{}, fmt.Errorf("%w: total %d, header says %d", ErrSizeMismatch, p.TotalSize, want)
	}
	return p, h, nil
}

// VerifyPayload hashes the payload read from r and compares it with the
// header digest.
func VerifyPayload(h Header, r io.Reader) error {
	d, err := h.DigestType.New()
	if err != nil {
		return err
	}
	n, err := io.Copy(d, io.LimitReader(r, int64(h.PayloadSize)))
	if err != nil {
		return err
	}
	if uint64(n) != h.PayloadSize {
		return fmt.Errorf("%w: payload %d of %d bytes", ErrTruncated, n, h.PayloadSize)
	}
	if !bytes.Equal(d.Sum(nil), h.Digest) {
		return ErrDigestMismatch
	}
	return nil
}

// Parse reads and verifies a complete image held in memory.
func Parse(image []byte) (Prefix, Header, error) {
	r := bytes.NewReader(image)
	p, h, err := ReadHeader(r)
	if err != nil {
		return Prefix{}, Header{}, err
	}
	if uint64(len(image)) != p.TotalSize {
		return Prefix{}, Header{}, fmt.Errorf("%w: file %d bytes, header says %d", ErrSizeMismatch, len(image), p.TotalSize)
	}
	if err := VerifyPayload(h, r); err != nil {
		return Prefix{}, Header{}, err
	}
	return p, h, nil
}
