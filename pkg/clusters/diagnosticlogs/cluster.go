// Package diagnosticlogs implements the Diagnostic Logs Cluster (0x0032).
//
// A RetrieveLogsRequest is answered inline (ResponsePayload) when the log
// fits in one response, and otherwise by pushing the log to the requesting
// node over BDX through BDXProvider.
//
// Spec Reference: Section 11.11
package diagnosticlogs

import (
	"context"
	"errors"
	"fmt"

	"github.com/backkem/matter-bdx/pkg/clusters"
	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/tlv"
	"github.com/backkem/matter-bdx/pkg/transfer"
	"github.com/pion/logging"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0032
	ClusterRevision uint16              = 1
)

// Command IDs (Spec 11.11.5).
const (
	CmdRetrieveLogsRequest  datamodel.CommandID = 0x00
	CmdRetrieveLogsResponse datamodel.CommandID = 0x01
)

// Field limits (Spec 11.11.5).
const (
	// MaxLogContentSize is the largest log returned inline.
	MaxLogContentSize = 1024

	// MaxFileDesignatorLength bounds TransferFileDesignator.
	MaxFileDesignatorLength = 32
)

// Intent selects the kind of log (Spec 11.11.4.1).
type Intent uint8

const (
	IntentEndUserSupport Intent = 0
	IntentNetworkDiag    Intent = 1
	IntentCrashLogs      Intent = 2
)

// IsValid reports whether the intent is defined.
func (i Intent) IsValid() bool { return i <= IntentCrashLogs }

// String returns the name of the intent.
func (i Intent) String() string {
	switch i {
	case IntentEndUserSupport:
		return "EndUserSupport"
	case IntentNetworkDiag:
		return "NetworkDiag"
	case IntentCrashLogs:
		return "CrashLogs"
	default:
		return fmt.Sprintf("Intent(%d)", uint8(i))
	}
}

// ParseIntent parses an intent name as returned by String.
func ParseIntent(s string) (Intent, error) {
	for i := IntentEndUserSupport; i <= IntentCrashLogs; i++ {
		if i.String() == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("diagnosticlogs: unknown intent %q", s)
}

// TransferProtocol selects how the log is returned (Spec 11.11.4.3).
type TransferProtocol uint8

const (
	ProtocolResponsePayload TransferProtocol = 0
	ProtocolBDX             TransferProtocol = 1
)

// IsValid reports whether the protocol is defined.
func (p TransferProtocol) IsValid() bool { return p <= ProtocolBDX }

// String returns the name of the protocol.
func (p TransferProtocol) String() string {
	switch p {
	case ProtocolResponsePayload:
		return "ResponsePayload"
	case ProtocolBDX:
		return "BDX"
	default:
		return fmt.Sprintf("TransferProtocol(%d)", uint8(p))
	}
}

// Status is the RetrieveLogsResponse status (Spec 11.11.4.2).
type Status uint8

const (
	StatusSuccess   Status = 0
	StatusExhausted Status = 1
	StatusNoLogs    Status = 2
	StatusBusy      Status = 3
	StatusDenied    Status = 4
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusExhausted:
		return "Exhausted"
	case StatusNoLogs:
		return "NoLogs"
	case StatusBusy:
		return "Busy"
	case StatusDenied:
		return "Denied"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// StatusFromOutcome maps a transfer outcome to the response status.
func StatusFromOutcome(o transfer.Outcome) Status {
	switch o {
	case transfer.OutcomeSuccess:
		return StatusSuccess
	case transfer.OutcomeBusy:
		return StatusBusy
	case transfer.OutcomeNoLogs:
		return StatusNoLogs
	case transfer.OutcomeExhausted:
		return StatusExhausted
	default:
		return StatusDenied
	}
}

// Config configures the Diagnostic Logs cluster.
type Config struct {
	// EndpointID is the endpoint the cluster lives on, usually 0.
	EndpointID datamodel.EndpointID

	// Delegate supplies the logs. Without one every request gets NoLogs.
	Delegate LogDelegate

	// Provider sends logs over BDX. Without one BDX requests are answered
	// inline. Delegate calls run on the provider's executor.
	Provider *BDXProvider

	// LoggerFactory for cluster logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Cluster is the Diagnostic Logs server cluster.
type Cluster struct {
	*datamodel.ClusterBase

	delegate LogDelegate
	provider *BDXProvider
	log      logging.LeveledLogger
}

// New creates a Diagnostic Logs cluster.
func New(config Config) *Cluster {
	c := &Cluster{
		ClusterBase: datamodel.NewClusterBase(ClusterID, config.EndpointID, ClusterRevision),
		delegate:    config.Delegate,
		provider:    config.Provider,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("diaglogs")
	}
	return c
}

// InvokeCommand implements clusters.CommandCluster.
func (c *Cluster) InvokeCommand(ctx context.Context, req datamodel.InvokeRequest, r *tlv.Reader, h *clusters.CommandHandle) error {
	switch req.Path.Command {
	case CmdRetrieveLogsRequest:
		return c.handleRetrieveLogs(req, r, h)
	default:
		return datamodel.ErrUnsupportedCommand
	}
}

// handleRetrieveLogs validates the request on the caller's goroutine and
// serves it on the provider's executor.
//
// Spec: Section 11.11.5.1
func (c *Cluster) handleRetrieveLogs(req datamodel.InvokeRequest, r *tlv.Reader, h *clusters.CommandHandle) error {
	var rl RetrieveLogsRequest
	if err := rl.UnmarshalTLV(r); err != nil {
		return fmt.Errorf("%w: %v", datamodel.ErrInvalidCommand, err)
	}
	if !rl.Intent.IsValid() || !rl.RequestedProtocol.IsValid() {
		return fmt.Errorf("%w: intent %s, protocol %s", datamodel.ErrInvalidCommand, rl.Intent, rl.RequestedProtocol)
	}
	if rl.RequestedProtocol == ProtocolBDX {
		if rl.TransferFileDesignator == nil {
			return fmt.Errorf("%w: BDX requested without a file designator", datamodel.ErrInvalidCommand)
		}
		if n := len(*rl.TransferFileDesignator); n == 0 || n > MaxFileDesignatorLength {
			return fmt.Errorf("%w: file designator length %d", datamodel.ErrConstraintError, n)
		}
	}

	if c.delegate == nil {
		return h.AddResponse(req.Path, &RetrieveLogsResponse{Status: StatusNoLogs})
	}
	if c.provider == nil {
		c.respondWithPayload(req.Path, rl.Intent, h)
		return nil
	}
	return c.provider.Executor().Post(func() { c.retrieveLogs(req, rl, h) })
}

func (c *Cluster) retrieveLogs(req datamodel.InvokeRequest, rl RetrieveLogsRequest, h *clusters.CommandHandle) {
	if rl.RequestedProtocol == ProtocolResponsePayload {
		c.respondWithPayload(req.Path, rl.Intent, h)
		return
	}

	peer, ok := req.Peer()
	if !ok {
		// No single peer to open an exchange to.
		c.respondWithPayload(req.Path, rl.Intent, h)
		return
	}
	// A busy provider answers without touching the delegate.
	if c.provider.IsBusy() {
		h.AddResponse(req.Path, &RetrieveLogsResponse{Status: StatusBusy})
		return
	}
	if size, err := c.delegate.GetSizeForIntent(rl.Intent); err != nil || size <= MaxLogContentSize {
		c.respondWithPayload(req.Path, rl.Intent, h)
		return
	}

	err := c.provider.StartTransfer(RequestContext{Path: req.Path, Peer: peer, Handle: h},
		c.delegate, rl.Intent, *rl.TransferFileDesignator)
	if err == nil {
		return
	}
	status := StatusDenied
	switch {
	case errors.Is(err, transfer.ErrBusy):
		status = StatusBusy
	case errors.Is(err, ErrNoLogs):
		status = StatusNoLogs
	}
	if c.log != nil {
		c.log.Infof("retrieve %s logs over BDX for %s: %v", rl.Intent, peer, err)
	}
	h.AddResponse(req.Path, &RetrieveLogsResponse{Status: status})
}

// respondWithPayload answers with up to MaxLogContentSize bytes of the log:
// Success if the whole log fit, Exhausted if it was cut short.
func (c *Cluster) respondWithPayload(path datamodel.ConcreteCommandPath, intent Intent, h *clusters.CommandHandle) {
	session, err := c.delegate.StartLogCollection(intent)
	if err != nil {
		if errors.Is(err, ErrNoLogs) {
			h.AddResponse(path, &RetrieveLogsResponse{Status: StatusNoLogs})
			return
		}
		if c.log != nil {
			c.log.Warnf("start %s log collection: %v", intent, err)
		}
		h.AddStatus(path, datamodel.StatusFailure)
		return
	}

	buf := make([]byte, MaxLogContentSize)
	n, eol, err := c.delegate.CollectLog(session.Handle, buf)
	if endErr := c.delegate.EndLogCollection(session.Handle); endErr != nil && c.log != nil {
		c.log.Warnf("end %s log collection: %v", intent, endErr)
	}
	if err != nil || n < 0 || n > len(buf) {
		if c.log != nil {
			c.log.Warnf("collect %s log: n=%d err=%v", intent, n, err)
		}
		h.AddStatus(path, datamodel.StatusFailure)
		return
	}

	status := StatusSuccess
	if !eol {
		status = StatusExhausted
	}
	h.AddResponse(path, newResponse(status, buf[:n], session))
}
