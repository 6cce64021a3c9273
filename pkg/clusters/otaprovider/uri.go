package otaprovider

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/matter-bdx/pkg/fabric"
)

const bdxScheme = "bdx://"

// ImageURI returns the bdx:// URI for designator served by node.
//
// Spec: Section 11.20.7.2.3
func ImageURI(node fabric.NodeID, designator string) string {
	return bdxScheme + node.Hex() + "/" + designator
}

// ParseImageURI splits a bdx:// URI into the serving node and the file
// designator.
func ParseImageURI(uri string) (fabric.NodeID, string, error) {
	rest, ok := strings.CutPrefix(uri, bdxScheme)
	if !ok {
		return 0, "", fmt.Errorf("%w: not a bdx URI: %q", ErrInvalidURI, uri)
	}
	host, designator, ok := strings.Cut(rest, "/")
	if !ok || len(host) != 16 || designator == "" {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	id, err := strconv.ParseUint(host, 16, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: node id %q", ErrInvalidURI, host)
	}
	return fabric.NodeID(id), designator, nil
}
