package drm

import (
	"fmt"

	"github.com/rialto-project/cdm-server/internal/cdm/types"
)

// UnavailableFactory is the SystemFactory cmd/cdm-server wires in by
// default: a real deployment of this server only functions once it is
// built against a cgo OCDM binding (out of scope here, per spec §1), and
// until then every CreateSystem call fails cleanly rather than the
// binary refusing to start. LibrarySearchPaths is recorded purely for
// operator-facing error text; nothing in this package touches the
// filesystem.
type UnavailableFactory struct {
	LibrarySearchPaths []string
}

// CreateSystem always fails: there is no native OCDM binding linked into
// this binary to create a handle from.
func (f UnavailableFactory) CreateSystem(keySystem types.KeySystem) (NativeSystemHandle, error) {
	return nil, fmt.Errorf("drm: no native OCDM binding is linked into this binary; "+
		"cannot create a system for key system %q (searched: %v)", keySystem, f.LibrarySearchPaths)
}
