package drm

import (
	"fmt"

	"github.com/rialto-project/cdm-server/internal/cdm/types"
	"github.com/rialto-project/cdm-server/pkg/bufpool"
)

// storeHashSize is the fixed capacity reserved for store-hash queries, per
// spec §4.1: "caller supplies a vector; callee reserves 256 bytes".
const storeHashSize = 256

// SystemFactory creates native system handles for a key system. A real
// deployment wires this to a cgo OCDM binding; tests wire it to a fake.
type SystemFactory interface {
	CreateSystem(keySystem types.KeySystem) (NativeSystemHandle, error)
}

// System is a thin, stateful wrapper over one native DRM system handle,
// scoped to a single KeySystem. It never holds session state: Session
// objects are created through it but owned by their caller (spec §4.1).
type System struct {
	keySystem types.KeySystem
	native    NativeSystemHandle
}

// NewSystem constructs a System for keySystem. Construction fails iff the
// native factory reports an error creating the underlying system handle;
// this is the only throwing path in the adapter, matching spec §4.2's
// "Construction is the only throwing path" for the sibling Session type.
func NewSystem(factory SystemFactory, keySystem types.KeySystem) (*System, error) {
	native, err := factory.CreateSystem(keySystem)
	if err != nil {
		return nil, fmt.Errorf("drm: create native system for %q: %w", keySystem, err)
	}
	return &System{keySystem: keySystem, native: native}, nil
}

// KeySystem returns the key system this System wraps.
func (s *System) KeySystem() types.KeySystem {
	return s.keySystem
}

// Destroy unconditionally destroys the native system. Safe to call once.
func (s *System) Destroy() {
	s.native.Destroy()
}

// GetVersion returns the native library version string.
func (s *System) GetVersion() (string, types.MediaKeyErrorStatus) {
	v, code := s.native.GetVersion()
	return v, MapNativeError(code)
}

// GetLdlSessionsLimit returns the limited-duration-license session cap.
func (s *System) GetLdlSessionsLimit() (uint32, types.MediaKeyErrorStatus) {
	limit, code := s.native.GetLdlSessionsLimit()
	return limit, MapNativeError(code)
}

// DeleteKeyStore wipes the on-disk key store.
func (s *System) DeleteKeyStore() types.MediaKeyErrorStatus {
	return MapNativeError(s.native.DeleteKeyStore())
}

// DeleteSecureStore wipes the on-disk secure store (spec's "deleteDrmStore").
func (s *System) DeleteSecureStore() types.MediaKeyErrorStatus {
	return MapNativeError(s.native.DeleteSecureStore())
}

// GetKeyStoreHash returns the key store hash. Output length is storeHashSize
// on success, per spec §4.1.
func (s *System) GetKeyStoreHash() ([]byte, types.MediaKeyErrorStatus) {
	return s.getStoreHash(s.native.GetKeyStoreHash)
}

// GetSecureStoreHash returns the secure (DRM) store hash.
func (s *System) GetSecureStoreHash() ([]byte, types.MediaKeyErrorStatus) {
	return s.getStoreHash(s.native.GetSecureStoreHash)
}

func (s *System) getStoreHash(call func([]byte) (int, NativeErrorCode)) ([]byte, types.MediaKeyErrorStatus) {
	buf := bufpool.Get(storeHashSize)
	defer bufpool.Put(buf)

	n, code := call(buf)
	status := MapNativeError(code)
	if !status.Ok() {
		return nil, status
	}

	out := make([]byte, n)
	copy(out, buf[:n])
	return out, status
}

// GetDrmTime returns the DRM library's notion of current time.
func (s *System) GetDrmTime() (uint64, types.MediaKeyErrorStatus) {
	t, code := s.native.GetDrmTime()
	return t, MapNativeError(code)
}

// SupportsServerCertificate reports whether this key system accepts a
// server certificate.
func (s *System) SupportsServerCertificate() bool {
	return s.native.SupportsServerCertificate()
}

// CreateSession allocates a new Session bound to client. client receives
// every native callback the session raises; this package performs no
// synchronization of its own, per spec §4.1 — the caller (Key Session, C2)
// is responsible for routing callbacks onto the Main Thread.
func (s *System) CreateSession(client SessionClient) (SessionAPI, types.MediaKeyErrorStatus) {
	relay := &callbackRelay{client: client}
	native, code := s.native.CreateSession(relay)
	status := MapNativeError(code)
	if !status.Ok() {
		return nil, status
	}
	return &Session{native: native}, types.StatusOK
}

// GetMetricSystemData fills buf-sized scratch space with opaque metric
// data. The retry/doubling loop described in spec §4.3 lives one layer up,
// in MediaKeys: this method performs exactly one native call at the
// requested size.
func (s *System) GetMetricSystemData(size int) ([]byte, types.MediaKeyErrorStatus) {
	buf := bufpool.Get(size)
	defer bufpool.Put(buf)

	n, code := s.native.GetMetricSystemData(buf)
	status := MapNativeError(code)
	if !status.Ok() {
		return nil, status
	}

	out := make([]byte, n)
	copy(out, buf[:n])
	return out, status
}
