package drm

import (
	"testing"

	"github.com/rialto-project/cdm-server/internal/cdm/types"
)

func TestUnavailableFactory_CreateSystem_AlwaysErrors(t *testing.T) {
	f := UnavailableFactory{LibrarySearchPaths: []string{"/usr/lib/ocdm"}}

	native, err := f.CreateSystem(types.KeySystem("com.widevine.alpha"))
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if native != nil {
		t.Errorf("native = %v, want nil", native)
	}
}
