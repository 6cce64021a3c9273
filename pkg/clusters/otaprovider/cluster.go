// Package otaprovider implements the OTA Software Update Provider Cluster
// (0x0029) and the BDX sender that serves the images it offers.
//
// QueryImage picks an image, arms the BDXSender for the requesting node and
// answers with a bdx:// URI; the requestor then opens the BDX exchange and
// pulls the image. ApplyUpdateRequest and NotifyUpdateApplied track the
// update token issued with the image.
//
// Spec Reference: Section 11.20
package otaprovider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/backkem/matter-bdx/pkg/clusters"
	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/tlv"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// maxTokens bounds the update tokens remembered at once.
const maxTokens = 64

// ApplyPolicy decides how a requestor holding a downloaded image proceeds.
type ApplyPolicy func(peer fabric.PeerID, newVersion uint32) (ApplyUpdateAction, time.Duration)

// Config configures the OTA Provider cluster.
type Config struct {
	// EndpointID is the endpoint the cluster lives on.
	EndpointID datamodel.EndpointID

	// NodeID is this provider's operational node ID, used in image URIs.
	NodeID fabric.NodeID

	// Images chooses the image for each query. Without one every query is
	// answered NotAvailable.
	Images ImageSource

	// Sender serves images over BDX. QueryImage runs on its executor.
	Sender *BDXSender

	// BusyDelay is the retry hint returned with Busy.
	// Defaults to DefaultBusyDelay.
	BusyDelay time.Duration

	// Apply decides ApplyUpdateRequest. Defaults to Proceed immediately.
	Apply ApplyPolicy

	// OnUpdateApplied is called when a requestor reports a new version. Optional.
	OnUpdateApplied func(peer fabric.PeerID, version uint32)

	// LoggerFactory for cluster logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// issuedToken is an UpdateToken handed out with an image.
type issuedToken struct {
	peer    fabric.PeerID
	version uint32
}

// Cluster is the OTA Software Update Provider server cluster.
type Cluster struct {
	*datamodel.ClusterBase

	nodeID          fabric.NodeID
	images          ImageSource
	sender          *BDXSender
	busyDelay       time.Duration
	apply           ApplyPolicy
	onUpdateApplied func(peer fabric.PeerID, version uint32)
	log             logging.LeveledLogger

	mu         sync.Mutex
	tokens     map[string]issuedToken
	tokenOrder []string
}

// New creates an OTA Provider cluster.
func New(config Config) *Cluster {
	c := &Cluster{
		ClusterBase:     datamodel.NewClusterBase(ClusterID, config.EndpointID, ClusterRevision),
		nodeID:          config.NodeID,
		images:          config.Images,
		sender:          config.Sender,
		busyDelay:       config.BusyDelay,
		apply:           config.Apply,
		onUpdateApplied: config.OnUpdateApplied,
		tokens:          make(map[string]issuedToken),
	}
	if c.busyDelay == 0 {
		c.busyDelay = DefaultBusyDelay
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("otaprovider")
	}
	return c
}

// InvokeCommand implements clusters.CommandCluster.
func (c *Cluster) InvokeCommand(ctx context.Context, req datamodel.InvokeRequest, r *tlv.Reader, h *clusters.CommandHandle) error {
	switch req.Path.Command {
	case CmdQueryImage:
		return c.handleQueryImage(req, r, h)
	case CmdApplyUpdateRequest:
		return c.handleApplyUpdate(req, r, h)
	case CmdNotifyUpdateApplied:
		return c.handleNotifyUpdateApplied(req, r, h)
	default:
		return datamodel.ErrUnsupportedCommand
	}
}

// handleQueryImage validates the query and answers it on the sender's
// executor, where the busy check and arming happen.
//
// Spec: Section 11.20.6.5.1
func (c *Cluster) handleQueryImage(req datamodel.InvokeRequest, r *tlv.Reader, h *clusters.CommandHandle) error {
	var q QueryImageRequest
	if err := q.UnmarshalTLV(r); err != nil {
		return fmt.Errorf("%w: %v", datamodel.ErrInvalidCommand, err)
	}
	if q.Location != nil && len(*q.Location) != MaxLocationLength {
		return fmt.Errorf("%w: location %q", datamodel.ErrConstraintError, *q.Location)
	}
	if len(q.MetadataForProvider) > MaxMetadataLength {
		return fmt.Errorf("%w: %d bytes of metadata", datamodel.ErrConstraintError, len(q.MetadataForProvider))
	}

	if c.sender == nil {
		return h.AddResponse(req.Path, &QueryImageResponse{Status: QueryStatusNotAvailable})
	}
	return c.sender.Executor().Post(func() { c.queryImage(req, q, h) })
}

func (c *Cluster) queryImage(req datamodel.InvokeRequest, q QueryImageRequest, h *clusters.CommandHandle) {
	status, resp := c.chooseImage(req, q)
	if resp == nil {
		resp = &QueryImageResponse{Status: status}
	}
	if c.log != nil {
		c.log.Debugf("QueryImage from vendor 0x%04x product 0x%04x v%d: %s",
			q.VendorID, q.ProductID, q.SoftwareVersion, resp.Status)
	}
	if err := h.AddResponse(req.Path, resp); err != nil && c.log != nil {
		c.log.Warnf("answering QueryImage: %v", err)
	}
}

// chooseImage decides the query. A nil response means a bare status.
func (c *Cluster) chooseImage(req datamodel.InvokeRequest, q QueryImageRequest) (QueryStatus, *QueryImageResponse) {
	peer, ok := req.Peer()
	if !ok || c.images == nil {
		return QueryStatusNotAvailable, nil
	}
	if !q.Supports(ProtocolBDXSynchronous) {
		return QueryStatusDownloadProtocolNotSupported, nil
	}

	img, err := c.images.LookupImage(ImageQuery{
		VendorID:        q.VendorID,
		ProductID:       q.ProductID,
		SoftwareVersion: q.SoftwareVersion,
		HardwareVersion: q.HardwareVersion,
		Location:        q.Location,
	})
	if err != nil {
		if !errors.Is(err, ErrNoImage) && c.log != nil {
			c.log.Warnf("image lookup for %s: %v", peer, err)
		}
		return QueryStatusNotAvailable, nil
	}
	if img.SoftwareVersion <= q.SoftwareVersion {
		return QueryStatusNotAvailable, nil
	}
	uri := ImageURI(c.nodeID, img.FileDesignator)
	if len(uri) > MaxImageURILength {
		if c.log != nil {
			c.log.Warnf("image URI for %q is too long", img.FileDesignator)
		}
		return QueryStatusNotAvailable, nil
	}

	if armed, busy := c.sender.ArmedPeer(); busy && armed != peer {
		return QueryStatusBusy, c.busyResponse()
	}
	if err := c.sender.PrepareForTransfer(peer.FabricIndex, peer.NodeID); err != nil {
		if c.log != nil {
			c.log.Infof("arming image transfer for %s: %v", peer, err)
		}
		return QueryStatusBusy, c.busyResponse()
	}

	token := c.issueToken(peer, img.SoftwareVersion)
	consent := false
	return QueryStatusUpdateAvailable, &QueryImageResponse{
		Status:                QueryStatusUpdateAvailable,
		ImageURI:              &uri,
		SoftwareVersion:       &img.SoftwareVersion,
		SoftwareVersionString: &img.SoftwareVersionString,
		UpdateToken:           token,
		UserConsentNeeded:     &consent,
	}
}

func (c *Cluster) busyResponse() *QueryImageResponse {
	delay := uint32(c.busyDelay / time.Second)
	return &QueryImageResponse{Status: QueryStatusBusy, DelayedActionTime: &delay}
}

// issueToken creates a random 16-byte UpdateToken for peer.
func (c *Cluster) issueToken(peer fabric.PeerID, version uint32) []byte {
	id := uuid.New()
	token := id[:]

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tokenOrder) >= maxTokens {
		delete(c.tokens, c.tokenOrder[0])
		c.tokenOrder = c.tokenOrder[1:]
	}
	key := string(token)
	c.tokens[key] = issuedToken{peer: peer, version: version}
	c.tokenOrder = append(c.tokenOrder, key)
	return token
}

// lookupToken returns the token issued to peer.
func (c *Cluster) lookupToken(token []byte, peer fabric.PeerID) (issuedToken, error) {
	if n := len(token); n < MinUpdateTokenLength || n > MaxUpdateTokenLength {
		return issuedToken{}, fmt.Errorf("%w: update token length %d", datamodel.ErrConstraintError, n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[string(token)]
	if !ok || t.peer != peer {
		return issuedToken{}, fmt.Errorf("%w: %w", datamodel.ErrInvalidCommand, ErrUnknownToken)
	}
	return t, nil
}

func (c *Cluster) forgetToken(token []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := string(token)
	delete(c.tokens, key)
	for i, k := range c.tokenOrder {
		if k == key {
			c.tokenOrder = append(c.tokenOrder[:i], c.tokenOrder[i+1:]...)
			break
		}
	}
}

// handleApplyUpdate tells a requestor whether to apply the image it holds.
//
// Spec: Section 11.20.6.5.3
func (c *Cluster) handleApplyUpdate(req datamodel.InvokeRequest, r *tlv.Reader, h *clusters.CommandHandle) error {
	var a ApplyUpdateRequest
	if err := a.UnmarshalTLV(r); err != nil {
		return fmt.Errorf("%w: %v", datamodel.ErrInvalidCommand, err)
	}
	peer, _ := req.Peer()
	t, err := c.lookupToken(a.UpdateToken, peer)
	if err != nil {
		return err
	}

	resp := &ApplyUpdateResponse{Action: ApplyActionProceed}
	switch {
	case a.NewVersion != t.version:
		resp.Action = ApplyActionDiscontinue
	case c.apply != nil:
		action, delay := c.apply(peer, a.NewVersion)
		resp.Action = action
		resp.DelayedActionTime = uint32(delay / time.Second)
	}
	if c.log != nil {
		c.log.Infof("ApplyUpdateRequest from %s for v%d: %s", peer, a.NewVersion, resp.Action)
	}
	return h.AddResponse(req.Path, resp)
}

// handleNotifyUpdateApplied retires the token of an applied update.
//
// Spec: Section 11.20.6.5.5
func (c *Cluster) handleNotifyUpdateApplied(req datamodel.InvokeRequest, r *tlv.Reader, h *clusters.CommandHandle) error {
	var n NotifyUpdateAppliedRequest
	if err := n.UnmarshalTLV(r); err != nil {
		return fmt.Errorf("%w: %v", datamodel.ErrInvalidCommand, err)
	}
	peer, _ := req.Peer()
	if _, err := c.lookupToken(n.UpdateToken, peer); err != nil {
		return err
	}
	c.forgetToken(n.UpdateToken)

	if c.log != nil {
		c.log.Infof("%s now runs v%d", peer, n.SoftwareVersion)
	}
	if c.onUpdateApplied != nil {
		c.onUpdateApplied(peer, n.SoftwareVersion)
	}
	return h.AddStatus(req.Path, datamodel.StatusSuccess)
}
