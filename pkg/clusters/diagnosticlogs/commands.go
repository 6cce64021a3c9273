package diagnosticlogs

import (
	"fmt"
	"math"
	"time"

	"github.com/backkem/matter-bdx/pkg/clusters"
	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/tlv"
)

// matterEpoch is the origin of epoch-us timestamps (Spec 7.19.2.4).
var matterEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// EpochMicros converts t to microseconds since the Matter epoch.
func EpochMicros(t time.Time) uint64 {
	if t.Before(matterEpoch) {
		return 0
	}
	return uint64(t.Sub(matterEpoch) / time.Microsecond)
}

// FromEpochMicros converts microseconds since the Matter epoch to a time.
func FromEpochMicros(us uint64) time.Time {
	return matterEpoch.Add(time.Duration(us) * time.Microsecond).UTC()
}

// RetrieveLogsRequest is the RetrieveLogsRequest command (Spec 11.11.5.1).
type RetrieveLogsRequest struct {
	Intent                 Intent
	RequestedProtocol      TransferProtocol
	TransferFileDesignator *string
}

// UnmarshalTLV decodes the request fields.
func (req *RetrieveLogsRequest) UnmarshalTLV(r *tlv.Reader) error {
	var haveIntent, haveProtocol bool
	err := clusters.ReadStruct(r, func(tag uint8) error {
		switch tag {
		case 0:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			if v > math.MaxUint8 {
				return fmt.Errorf("%w: intent %d", clusters.ErrInvalidRequest, v)
			}
			req.Intent = Intent(v)
			haveIntent = true
		case 1:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			if v > math.MaxUint8 {
				return fmt.Errorf("%w: protocol %d", clusters.ErrInvalidRequest, v)
			}
			req.RequestedProtocol = TransferProtocol(v)
			haveProtocol = true
		case 2:
			s, err := r.String()
			if err != nil {
				return err
			}
			req.TransferFileDesignator = &s
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !haveIntent || !haveProtocol {
		return clusters.ErrMissingField
	}
	return nil
}

// MarshalTLV encodes the request, as a client does.
func (req *RetrieveLogsRequest) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(req.Intent)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), uint64(req.RequestedProtocol)); err != nil {
		return err
	}
	if err := clusters.PutOptionalString(w, tlv.ContextTag(2), req.TransferFileDesignator); err != nil {
		return err
	}
	return w.EndContainer()
}

// CommandID implements clusters.Response for client-side encoding.
func (req *RetrieveLogsRequest) CommandID() datamodel.CommandID { return CmdRetrieveLogsRequest }

// RetrieveLogsResponse is the RetrieveLogsResponse command (Spec 11.11.5.2).
type RetrieveLogsResponse struct {
	Status     Status
	LogContent []byte

	// UTCTimeStamp in microseconds since the Matter epoch. Optional.
	UTCTimeStamp *uint64

	// TimeSinceBoot in microseconds. Optional.
	TimeSinceBoot *uint64
}

// CommandID implements clusters.Response.
func (resp *RetrieveLogsResponse) CommandID() datamodel.CommandID { return CmdRetrieveLogsResponse }

// MarshalTLV encodes the response.
func (resp *RetrieveLogsResponse) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(resp.Status)); err != nil {
		return err
	}
	content := resp.LogContent
	if content == nil {
		content = []byte{}
	}
	if err := w.PutBytes(tlv.ContextTag(1), content); err != nil {
		return err
	}
	if err := clusters.PutOptionalUint(w, tlv.ContextTag(2), resp.UTCTimeStamp); err != nil {
		return err
	}
	if err := clusters.PutOptionalUint(w, tlv.ContextTag(3), resp.TimeSinceBoot); err != nil {
		return err
	}
	return w.EndContainer()
}

// UnmarshalTLV decodes the response, as a client does.
func (resp *RetrieveLogsResponse) UnmarshalTLV(r *tlv.Reader) error {
	return clusters.ReadStruct(r, func(tag uint8) error {
		switch tag {
		case 0:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			resp.Status = Status(v)
		case 1:
			b, err := r.Bytes()
			if err != nil {
				return err
			}
			resp.LogContent = b
		case 2:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			resp.UTCTimeStamp = &v
		case 3:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			resp.TimeSinceBoot = &v
		}
		return nil
	})
}

// String returns a compact description for logs.
func (resp *RetrieveLogsResponse) String() string {
	return fmt.Sprintf("RetrieveLogsResponse{%s, %d bytes}", resp.Status, len(resp.LogContent))
}

// newResponse builds a response carrying the session's timestamps.
func newResponse(status Status, content []byte, session LogSession) *RetrieveLogsResponse {
	resp := &RetrieveLogsResponse{Status: status, LogContent: content}
	if !session.UTCTimestamp.IsZero() {
		ts := EpochMicros(session.UTCTimestamp)
		resp.UTCTimeStamp = &ts
	}
	if session.TimeSinceBoot != nil {
		us := uint64(*session.TimeSinceBoot / time.Microsecond)
		resp.TimeSinceBoot = &us
	}
	return resp
}
