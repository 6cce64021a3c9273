// Package clusters provides the command plumbing shared by the server
// clusters that start BDX transfers.
//
// # Architecture
//
// A cluster embeds *datamodel.ClusterBase and implements CommandCluster.
// The Dispatcher routes each invoke to its cluster together with a
// CommandHandle, the single-use ticket through which the cluster answers,
// either immediately or once a transfer has been accepted:
//
//	type MyCluster struct {
//	    *datamodel.ClusterBase
//	}
//
//	func (c *MyCluster) InvokeCommand(ctx context.Context, req datamodel.InvokeRequest, r *tlv.Reader, h *clusters.CommandHandle) error
//
// # Subpackages
//
//   - clusters/diagnosticlogs: Diagnostic Logs Cluster (0x0032)
//   - clusters/otaprovider: OTA Software Update Provider Cluster (0x0029)
//
// # Helpers
//
//   - Deferred command responses (handle.go)
//   - Invoke routing (dispatcher.go)
//   - Command TLV encoding/decoding (encoding.go)
package clusters
