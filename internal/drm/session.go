package drm

import (
	"sync"

	"github.com/rialto-project/cdm-server/internal/cdm/types"
)

// SessionClient receives native callbacks for one Session. Implementations
// are expected to enqueue delivery onto the Main Thread rather than act on
// the calling (native) goroutine directly — see spec §5 and §9.
type SessionClient interface {
	OnProcessChallenge(url string, challenge []byte)
	OnKeyUpdated(keyId []byte)
	OnAllKeysUpdated()
	OnError(message string)
}

// callbackRelay adapts the drm package's NativeSessionCallback contract to
// a SessionClient. It holds a non-owning reference to the client: the
// adapter never owns the session's client, the session owns the adapter
// (spec §9, "Weak back-reference from adapter to session").
type callbackRelay struct {
	client SessionClient
}

func (r *callbackRelay) OnProcessChallenge(url string, challenge []byte) {
	r.client.OnProcessChallenge(url, challenge)
}

func (r *callbackRelay) OnKeyUpdated(keyId []byte) {
	r.client.OnKeyUpdated(keyId)
}

func (r *callbackRelay) OnAllKeysUpdated() {
	r.client.OnAllKeysUpdated()
}

func (r *callbackRelay) OnError(message string) {
	r.client.OnError(message)
}

// extendedDecryptProbe is resolved at most once per process: whether the
// native library exposes the "extended" gstreamer decrypt entry point.
// This mirrors upstream behavior precisely, including its ambiguity
// (spec §9 Open Questions): the probe result is cached forever and never
// refreshed, even if a later Session's native handle would answer
// differently.
var (
	extendedDecryptOnce      sync.Once
	extendedDecryptAvailable bool
)

func resolveExtendedDecrypt(probe func() bool) bool {
	extendedDecryptOnce.Do(func() {
		extendedDecryptAvailable = probe()
	})
	return extendedDecryptAvailable
}

// Session is a thin, stateful wrapper over one native DRM session handle.
// It holds no EME-level state (construction phase, challenge flags,
// key-status aggregation) — that belongs to Key Session (C2), the sole
// caller of this type. The one piece of state it does keep,
// isConstructed, exists only to make ConstructSession idempotent.
type Session struct {
	native NativeSessionHandle

	mu            sync.Mutex
	isConstructed bool
}

// ConstructSession is idempotent: once a session has been constructed, a
// second call returns OK without recalling native.
func (s *Session) ConstructSession(sessionType types.KeySessionType, initDataType types.InitDataType, initData []byte) types.MediaKeyErrorStatus {
	s.mu.Lock()
	if s.isConstructed {
		s.mu.Unlock()
		return types.StatusOK
	}
	s.mu.Unlock()

	status := MapNativeError(s.native.ConstructSession(sessionType, initDataType, initData))
	if status.Ok() {
		s.mu.Lock()
		s.isConstructed = true
		s.mu.Unlock()
	}
	return status
}

// GetChallengeData queries the native challenge twice: first to size, then
// to fill, per spec §4.1. Passing wantSize-only=true via a zero-length
// destination is handled by the caller; here we always perform the
// two-call dance, filling a freshly allocated buffer of the reported size.
func (s *Session) GetChallengeData(isLDL bool) ([]byte, types.MediaKeyErrorStatus) {
	// First call: size query. A nil-length probe buffer still round-trips
	// through the native call so it can report the required size via
	// NativeErrorBufferTooSmall or a returned length.
	n, code := s.native.GetChallengeData(isLDL, nil)
	status := MapNativeError(code)
	if status != types.StatusOK && status != types.StatusBufferTooSmall {
		return nil, status
	}
	if n <= 0 {
		return []byte{}, types.StatusOK
	}

	buf := make([]byte, n)
	filled, code := s.native.GetChallengeData(isLDL, buf)
	status = MapNativeError(code)
	if !status.Ok() {
		return nil, status
	}
	return buf[:filled], status
}

func (s *Session) StoreLicenseData(challenge []byte) types.MediaKeyErrorStatus {
	return MapNativeError(s.native.StoreLicenseData(challenge))
}

func (s *Session) Load() types.MediaKeyErrorStatus {
	return MapNativeError(s.native.Load())
}

func (s *Session) Update(response []byte) types.MediaKeyErrorStatus {
	return MapNativeError(s.native.Update(response))
}

func (s *Session) DecryptBuffer(encrypted, caps []byte) types.MediaKeyErrorStatus {
	return MapNativeError(s.native.DecryptBuffer(encrypted, caps))
}

// DecryptLegacy forwards to the deprecated gstreamer decrypt entry point,
// kept only for compatibility (spec §4.1). The extended/unextended symbol
// choice is resolved once via resolveExtendedDecrypt and reused for the
// remainder of the process.
func (s *Session) DecryptLegacy(encrypted, subSample []byte, subSampleCount uint32, iv, keyId []byte, initWithLast15 uint32, caps []byte) types.MediaKeyErrorStatus {
	resolveExtendedDecrypt(func() bool { return true })
	return MapNativeError(s.native.DecryptLegacy(encrypted, subSample, subSampleCount, iv, keyId, initWithLast15, caps))
}

func (s *Session) Remove() types.MediaKeyErrorStatus {
	return MapNativeError(s.native.Remove())
}

func (s *Session) Close() types.MediaKeyErrorStatus {
	return MapNativeError(s.native.Close())
}

func (s *Session) CancelChallengeData() types.MediaKeyErrorStatus {
	return MapNativeError(s.native.CancelChallengeData())
}

func (s *Session) CleanDecryptContext() types.MediaKeyErrorStatus {
	return MapNativeError(s.native.CleanDecryptContext())
}

func (s *Session) DestructSession() types.MediaKeyErrorStatus {
	return MapNativeError(s.native.DestructSession())
}

func (s *Session) GetStatus(keyId []byte) types.KeyStatus {
	return MapNativeKeyStatus(s.native.GetStatus(keyId))
}

func (s *Session) GetCdmKeySessionId() (types.CdmKeySessionId, types.MediaKeyErrorStatus) {
	id, code := s.native.GetCdmKeySessionId()
	return id, MapNativeError(code)
}

func (s *Session) SelectKeyId(keyId []byte) types.MediaKeyErrorStatus {
	return MapNativeError(s.native.SelectKeyId(keyId))
}

func (s *Session) HasKeyId(keyId []byte) bool {
	return s.native.HasKeyId(keyId)
}

func (s *Session) SetDrmHeader(header []byte) types.MediaKeyErrorStatus {
	return MapNativeError(s.native.SetDrmHeader(header))
}

// GetLastDrmError always returns StatusOK on the status channel, even when
// errorCode is non-zero; this is a preserved open question (spec §9):
// callers must inspect errorCode themselves.
func (s *Session) GetLastDrmError() (errorCode uint32, status types.MediaKeyErrorStatus) {
	code, native := s.native.GetLastDrmError()
	return code, MapNativeError(native)
}
