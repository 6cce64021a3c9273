package otaprovider

import (
	"fmt"
	"time"

	"github.com/backkem/matter-bdx/pkg/datamodel"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0029
	ClusterRevision uint16              = 1
)

// Command IDs (Spec 11.20.6.5).
const (
	CmdQueryImage          datamodel.CommandID = 0x00
	CmdQueryImageResponse  datamodel.CommandID = 0x01
	CmdApplyUpdateRequest  datamodel.CommandID = 0x02
	CmdApplyUpdateResponse datamodel.CommandID = 0x03
	CmdNotifyUpdateApplied datamodel.CommandID = 0x04
)

// Field limits.
const (
	// MinUpdateTokenLength and MaxUpdateTokenLength bound UpdateToken.
	MinUpdateTokenLength = 8
	MaxUpdateTokenLength = 32

	// MaxImageURILength bounds ImageURI.
	MaxImageURILength = 256

	// MaxLocationLength is the length of an ISO 3166-1 alpha-2 code.
	MaxLocationLength = 2

	// MaxMetadataLength bounds the metadata fields.
	MaxMetadataLength = 512
)

// DefaultBusyDelay is the DelayedActionTime returned with a Busy status.
const DefaultBusyDelay = 120 * time.Second

// QueryStatus is the QueryImageResponse status (Spec 11.20.6.4.1).
type QueryStatus uint8

const (
	QueryStatusUpdateAvailable              QueryStatus = 0
	QueryStatusBusy                         QueryStatus = 1
	QueryStatusNotAvailable                 QueryStatus = 2
	QueryStatusDownloadProtocolNotSupported QueryStatus = 3
)

func (s QueryStatus) String() string {
	switch s {
	case QueryStatusUpdateAvailable:
		return "UpdateAvailable"
	case QueryStatusBusy:
		return "Busy"
	case QueryStatusNotAvailable:
		return "NotAvailable"
	case QueryStatusDownloadProtocolNotSupported:
		return "DownloadProtocolNotSupported"
	default:
		return fmt.Sprintf("QueryStatus(%d)", uint8(s))
	}
}

// ApplyUpdateAction is the ApplyUpdateResponse action (Spec 11.20.6.4.2).
type ApplyUpdateAction uint8

const (
	ApplyActionProceed         ApplyUpdateAction = 0
	ApplyActionAwaitNextAction ApplyUpdateAction = 1
	ApplyActionDiscontinue     ApplyUpdateAction = 2
)

func (a ApplyUpdateAction) String() string {
	switch a {
	case ApplyActionProceed:
		return "Proceed"
	case ApplyActionAwaitNextAction:
		return "AwaitNextAction"
	case ApplyActionDiscontinue:
		return "Discontinue"
	default:
		return fmt.Sprintf("ApplyUpdateAction(%d)", uint8(a))
	}
}

// DownloadProtocol is a protocol a requestor can download an image with
// (Spec 11.20.6.4.3).
type DownloadProtocol uint8

const (
	ProtocolBDXSynchronous  DownloadProtocol = 0
	ProtocolBDXAsynchronous DownloadProtocol = 1
	ProtocolHTTPS           DownloadProtocol = 2
	ProtocolVendorSpecific  DownloadProtocol = 3
)

func (p DownloadProtocol) String() string {
	switch p {
	case ProtocolBDXSynchronous:
		return "BDXSynchronous"
	case ProtocolBDXAsynchronous:
		return "BDXAsynchronous"
	case ProtocolHTTPS:
		return "HTTPS"
	case ProtocolVendorSpecific:
		return "VendorSpecific"
	default:
		return fmt.Sprintf("DownloadProtocol(%d)", uint8(p))
	}
}
