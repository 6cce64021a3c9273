package otaprovider

import (
	"errors"
	"fmt"

	"github.com/backkem/matter-bdx/pkg/bdx"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/transfer"
	"github.com/pion/logging"
)

// SenderConfig configures a BDXSender.
type SenderConfig struct {
	// Transfer configures the sender's driver. Its Strategy is set by the
	// sender; Name defaults to "ota".
	Transfer transfer.Config

	// Delegate serves the image data. Required.
	Delegate Delegate

	// LoggerFactory for sender logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// BDXSender serves an OTA image to a requestor that pulls it over BDX,
// usually in receiver drive. A successful QueryImage arms it for one peer;
// the peer then opens the BDX exchange itself.
//
// Every method must be called on the driver's executor.
type BDXSender struct {
	driver   *transfer.Driver
	exec     transfer.Executor
	delegate Delegate
	log      logging.LeveledLogger

	// nodeID is the armed requestor; zero when idle.
	nodeID fabric.NodeID
}

// NewBDXSender creates a sender and its driver.
func NewBDXSender(config SenderConfig) (*BDXSender, error) {
	if config.Delegate == nil {
		return nil, ErrNoDelegate
	}
	s := &BDXSender{
		exec:     config.Transfer.Executor,
		delegate: config.Delegate,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("otaprovider")
	}

	tc := config.Transfer
	tc.Strategy = s
	if tc.Name == "" {
		tc.Name = transfer.SubsystemOTA.String()
	}
	d, err := transfer.NewDriver(tc)
	if err != nil {
		return nil, err
	}
	s.driver = d
	return s, nil
}

// Driver returns the sender's driver, for registration and shutdown.
func (s *BDXSender) Driver() *transfer.Driver { return s.driver }

// Executor returns the executor the sender runs on.
func (s *BDXSender) Executor() transfer.Executor { return s.exec }

// IsBusy reports whether a session is armed or running.
func (s *BDXSender) IsBusy() bool { return s.driver.IsBusy() }

// ArmedPeer returns the requestor the sender is armed for.
func (s *BDXSender) ArmedPeer() (fabric.PeerID, bool) {
	if !s.driver.IsBusy() {
		return fabric.PeerID{}, false
	}
	return s.driver.Peer(), true
}

// PrepareForTransfer arms the sender for an init from nodeID. Arming again
// for the same node restarts the session; for another node it fails with
// transfer.ErrBusy.
func (s *BDXSender) PrepareForTransfer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) error {
	peer := fabric.NewPeerID(fabricIndex, nodeID)
	if err := s.driver.PrepareForTransfer(transfer.PrepareParams{Peer: peer}); err != nil {
		return err
	}
	s.nodeID = nodeID
	if s.log != nil {
		s.log.Infof("armed for image transfer to %s", peer)
	}
	return nil
}

// OnInitReceived implements transfer.Strategy.
func (s *BDXSender) OnInitReceived(info transfer.InitInfo) (bdx.TransferAcceptData, error) {
	if info.Peer.NodeID != s.nodeID {
		return bdx.TransferAcceptData{}, &bdx.ProtocolError{
			Code:   bdx.StatusUnexpectedMessage,
			Reason: fmt.Sprintf("init from %s, armed for %s", info.Peer.NodeID, s.nodeID),
		}
	}
	designator := string(info.FileDesignator)
	err := s.delegate.OnTransferSessionBegin(s.nodeID, designator, info.StartOffset)
	if err != nil {
		if errors.Is(err, ErrUnknownFile) {
			return bdx.TransferAcceptData{}, &bdx.ProtocolError{Code: bdx.StatusFileDesignatorUnknown, Reason: designator}
		}
		return bdx.TransferAcceptData{}, err
	}
	if s.log != nil {
		s.log.Infof("sending %q to %s from offset %d", designator, info.Peer, info.StartOffset)
	}
	return bdx.TransferAcceptData{StartOffset: info.StartOffset}, nil
}

// OnAcceptReceived implements transfer.Strategy. The sender never initiates.
func (s *BDXSender) OnAcceptReceived() {}

// ProduceBlock implements transfer.Strategy.
func (s *BDXSender) ProduceBlock(req transfer.BlockRequest, reply transfer.BlockReply) {
	s.delegate.OnBlockQuery(BlockQuery{
		NodeID:      s.nodeID,
		BlockSize:   req.BlockSize,
		BlockIndex:  req.Counter,
		BytesToSkip: req.BytesToSkip,
		Generation:  req.Generation,
	}, reply)
}

// OnTransferComplete implements transfer.Strategy.
func (s *BDXSender) OnTransferComplete() {
	if s.log != nil {
		s.log.Infof("image transfer to %s complete", s.nodeID)
	}
}

// OnSessionEnd implements transfer.Strategy.
func (s *BDXSender) OnSessionEnd(err error) {
	nodeID := s.nodeID
	s.nodeID = 0
	s.delegate.OnTransferSessionEnd(err, nodeID)
}

// Verify BDXSender implements transfer.Strategy.
var _ transfer.Strategy = (*BDXSender)(nil)
