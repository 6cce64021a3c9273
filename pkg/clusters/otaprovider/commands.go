package otaprovider

import (
	"fmt"

	"github.com/backkem/matter-bdx/pkg/clusters"
	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/tlv"
)

// QueryImageRequest is the QueryImage command (Spec 11.20.6.5.1).
type QueryImageRequest struct {
	VendorID            uint16
	ProductID           uint16
	SoftwareVersion     uint32
	ProtocolsSupported  []DownloadProtocol
	HardwareVersion     *uint16
	Location            *string
	RequestorCanConsent *bool
	MetadataForProvider []byte
}

// Supports reports whether the requestor listed protocol.
func (req *QueryImageRequest) Supports(protocol DownloadProtocol) bool {
	for _, p := range req.ProtocolsSupported {
		if p == protocol {
			return true
		}
	}
	return false
}

// UnmarshalTLV decodes the request fields.
func (req *QueryImageRequest) UnmarshalTLV(r *tlv.Reader) error {
	var have [3]bool
	err := clusters.ReadStruct(r, func(tag uint8) error {
		switch tag {
		case 0:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			req.VendorID = uint16(v)
			have[0] = true
		case 1:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			req.ProductID = uint16(v)
			have[1] = true
		case 2:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			req.SoftwareVersion = uint32(v)
			have[2] = true
		case 3:
			protocols, err := readProtocols(r)
			if err != nil {
				return err
			}
			req.ProtocolsSupported = protocols
		case 4:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			hw := uint16(v)
			req.HardwareVersion = &hw
		case 5:
			s, err := r.String()
			if err != nil {
				return err
			}
			req.Location = &s
		case 6:
			b, err := r.Bool()
			if err != nil {
				return err
			}
			req.RequestorCanConsent = &b
		case 7:
			b, err := r.Bytes()
			if err != nil {
				return err
			}
			req.MetadataForProvider = b
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !have[0] || !have[1] || !have[2] || req.ProtocolsSupported == nil {
		return clusters.ErrMissingField
	}
	return nil
}

func readProtocols(r *tlv.Reader) ([]DownloadProtocol, error) {
	if r.Type() != tlv.ElementTypeArray {
		return nil, fmt.Errorf("%w: ProtocolsSupported is not an array", clusters.ErrInvalidRequest)
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	protocols := []DownloadProtocol{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		v, err := r.Uint()
		if err != nil {
			return nil, err
		}
		protocols = append(protocols, DownloadProtocol(v))
	}
	return protocols, r.ExitContainer()
}

// MarshalTLV encodes the request, as a requestor does.
func (req *QueryImageRequest) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(req.VendorID)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), uint64(req.ProductID)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(2), uint64(req.SoftwareVersion)); err != nil {
		return err
	}
	if err := w.StartArray(tlv.ContextTag(3)); err != nil {
		return err
	}
	for _, p := range req.ProtocolsSupported {
		if err := w.PutUint(tlv.Anonymous(), uint64(p)); err != nil {
			return err
		}
	}
	if err := w.EndContainer(); err != nil {
		return err
	}
	if err := clusters.PutOptionalUint(w, tlv.ContextTag(4), req.HardwareVersion); err != nil {
		return err
	}
	if err := clusters.PutOptionalString(w, tlv.ContextTag(5), req.Location); err != nil {
		return err
	}
	if req.RequestorCanConsent != nil {
		if err := w.PutBool(tlv.ContextTag(6), *req.RequestorCanConsent); err != nil {
			return err
		}
	}
	if err := clusters.PutOptionalBytes(w, tlv.ContextTag(7), req.MetadataForProvider); err != nil {
		return err
	}
	return w.EndContainer()
}

// CommandID implements clusters.Response for requestor-side encoding.
func (req *QueryImageRequest) CommandID() datamodel.CommandID { return CmdQueryImage }

// QueryImageResponse is the QueryImageResponse command (Spec 11.20.6.5.2).
type QueryImageResponse struct {
	Status QueryStatus

	// DelayedActionTime in seconds.
	DelayedActionTime     *uint32
	ImageURI              *string
	SoftwareVersion       *uint32
	SoftwareVersionString *string
	UpdateToken           []byte
	UserConsentNeeded     *bool
	MetadataForRequestor  []byte
}

// CommandID implements clusters.Response.
func (resp *QueryImageResponse) CommandID() datamodel.CommandID { return CmdQueryImageResponse }

// MarshalTLV encodes the response.
func (resp *QueryImageResponse) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(resp.Status)); err != nil {
		return err
	}
	if err := clusters.PutOptionalUint(w, tlv.ContextTag(1), resp.DelayedActionTime); err != nil {
		return err
	}
	if err := clusters.PutOptionalString(w, tlv.ContextTag(2), resp.ImageURI); err != nil {
		return err
	}
	if err := clusters.PutOptionalUint(w, tlv.ContextTag(3), resp.SoftwareVersion); err != nil {
		return err
	}
	if err := clusters.PutOptionalString(w, tlv.ContextTag(4), resp.SoftwareVersionString); err != nil {
		return err
	}
	if err := clusters.PutOptionalBytes(w, tlv.ContextTag(5), resp.UpdateToken); err != nil {
		return err
	}
	if resp.UserConsentNeeded != nil {
		if err := w.PutBool(tlv.ContextTag(6), *resp.UserConsentNeeded); err != nil {
			return err
		}
	}
	if err := clusters.PutOptionalBytes(w, tlv.ContextTag(7), resp.MetadataForRequestor); err != nil {
		return err
	}
	return w.EndContainer()
}

// UnmarshalTLV decodes the response, as a requestor does.
func (resp *QueryImageResponse) UnmarshalTLV(r *tlv.Reader) error {
	return clusters.ReadStruct(r, func(tag uint8) error {
		switch tag {
		case 0:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			resp.Status = QueryStatus(v)
		case 1:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			d := uint32(v)
			resp.DelayedActionTime = &d
		case 2:
			s, err := r.String()
			if err != nil {
				return err
			}
			resp.ImageURI = &s
		case 3:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			sv := uint32(v)
			resp.SoftwareVersion = &sv
		case 4:
			s, err := r.String()
			if err != nil {
				return err
			}
			resp.SoftwareVersionString = &s
		case 5:
			b, err := r.Bytes()
			if err != nil {
				return err
			}
			resp.UpdateToken = b
		case 6:
			b, err := r.Bool()
			if err != nil {
				return err
			}
			resp.UserConsentNeeded = &b
		case 7:
			b, err := r.Bytes()
			if err != nil {
				return err
			}
			resp.MetadataForRequestor = b
		}
		return nil
	})
}

// ApplyUpdateRequest is the ApplyUpdateRequest command (Spec 11.20.6.5.3).
type ApplyUpdateRequest struct {
	UpdateToken []byte
	NewVersion  uint32
}

// UnmarshalTLV decodes the request fields.
func (req *ApplyUpdateRequest) UnmarshalTLV(r *tlv.Reader) error {
	var haveVersion bool
	err := clusters.ReadStruct(r, func(tag uint8) error {
		switch tag {
		case 0:
			b, err := r.Bytes()
			if err != nil {
				return err
			}
			req.UpdateToken = b
		case 1:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			req.NewVersion = uint32(v)
			haveVersion = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if req.UpdateToken == nil || !haveVersion {
		return clusters.ErrMissingField
	}
	return nil
}

// MarshalTLV encodes the request, as a requestor does.
func (req *ApplyUpdateRequest) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(0), req.UpdateToken); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), uint64(req.NewVersion)); err != nil {
		return err
	}
	return w.EndContainer()
}

// CommandID implements clusters.Response for requestor-side encoding.
func (req *ApplyUpdateRequest) CommandID() datamodel.CommandID { return CmdApplyUpdateRequest }

// ApplyUpdateResponse is the ApplyUpdateResponse command (Spec 11.20.6.5.4).
type ApplyUpdateResponse struct {
	Action ApplyUpdateAction

	// DelayedActionTime in seconds.
	DelayedActionTime uint32
}

// CommandID implements clusters.Response.
func (resp *ApplyUpdateResponse) CommandID() datamodel.CommandID { return CmdApplyUpdateResponse }

// MarshalTLV encodes the response.
func (resp *ApplyUpdateResponse) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(resp.Action)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), uint64(resp.DelayedActionTime)); err != nil {
		return err
	}
	return w.EndContainer()
}

// UnmarshalTLV decodes the response, as a requestor does.
func (resp *ApplyUpdateResponse) UnmarshalTLV(r *tlv.Reader) error {
	return clusters.ReadStruct(r, func(tag uint8) error {
		switch tag {
		case 0:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			resp.Action = ApplyUpdateAction(v)
		case 1:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			resp.DelayedActionTime = uint32(v)
		}
		return nil
	})
}

// NotifyUpdateAppliedRequest is the NotifyUpdateApplied command
// (Spec 11.20.6.5.5).
type NotifyUpdateAppliedRequest struct {
	UpdateToken     []byte
	SoftwareVersion uint32
}

// UnmarshalTLV decodes the request fields.
func (req *NotifyUpdateAppliedRequest) UnmarshalTLV(r *tlv.Reader) error {
	var haveVersion bool
	err := clusters.ReadStruct(r, func(tag uint8) error {
		switch tag {
		case 0:
			b, err := r.Bytes()
			if err != nil {
				return err
			}
			req.UpdateToken = b
		case 1:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			req.SoftwareVersion = uint32(v)
			haveVersion = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if req.UpdateToken == nil || !haveVersion {
		return clusters.ErrMissingField
	}
	return nil
}

// MarshalTLV encodes the request, as a requestor does.
func (req *NotifyUpdateAppliedRequest) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(0), req.UpdateToken); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), uint64(req.SoftwareVersion)); err != nil {
		return err
	}
	return w.EndContainer()
}

// CommandID implements clusters.Response for requestor-side encoding.
func (req *NotifyUpdateAppliedRequest) CommandID() datamodel.CommandID {
	return CmdNotifyUpdateApplied
}
