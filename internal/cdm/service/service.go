// Package service implements the CDM Service (C4): the process-wide façade
// that fronts every MediaKeys instance, gates operations on an
// active/inactive lifecycle, and tracks which IPC client owns which
// handles so a disconnect can tear down exactly what that client created.
package service

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/rialto-project/cdm-server/internal/cdm/keysession"
	"github.com/rialto-project/cdm-server/internal/cdm/mainthread"
	"github.com/rialto-project/cdm-server/internal/cdm/mediakeys"
	"github.com/rialto-project/cdm-server/internal/cdm/types"
	"github.com/rialto-project/cdm-server/internal/drm"
)

// staticKeySystems is the order getSupportedKeySystems probes and
// preserves, per spec §4.4.
var staticKeySystems = []types.KeySystem{
	types.KeySystemWidevine,
	types.KeySystemPlayReady,
	types.KeySystemNetflixPlayReady,
}

// ClientID identifies one connected IPC client.
type ClientID string

// mediaKeySessionInfo is the MediaKeySessionInfo record from spec §3.
type mediaKeySessionInfo struct {
	mediaKeysHandle  types.MediaKeysHandle
	isNetflixPlayready bool
	refCounter         uint
	shouldBeClosed     bool
	shouldBeReleased   bool
}

// Service is the CdmService process singleton.
type Service struct {
	mainThread *mainthread.MainThread
	factory    drm.SystemFactory

	isActive atomic.Bool

	mu            sync.Mutex
	nextHandle    types.MediaKeysHandle
	mediaKeysById map[types.MediaKeysHandle]*mediakeys.MediaKeys
	handleOwner   map[types.MediaKeysHandle]ClientID
	clientHandles map[ClientID]map[types.MediaKeysHandle]struct{}
	sessionRoute  map[types.KeySessionId]keysession.EventSink
	sessionInfo   map[types.KeySessionId]*mediaKeySessionInfo

	versionProbe singleflight.Group
}

// New constructs an inactive Service. switchToActive must be called before
// any create operation succeeds.
func New(mainThread *mainthread.MainThread, factory drm.SystemFactory) *Service {
	return &Service{
		mainThread:    mainThread,
		factory:       factory,
		mediaKeysById: make(map[types.MediaKeysHandle]*mediakeys.MediaKeys),
		handleOwner:   make(map[types.MediaKeysHandle]ClientID),
		clientHandles: make(map[ClientID]map[types.MediaKeysHandle]struct{}),
		sessionRoute:  make(map[types.KeySessionId]keysession.EventSink),
		sessionInfo:   make(map[types.KeySessionId]*mediaKeySessionInfo),
	}
}

// SwitchToActive must precede any create operation.
func (s *Service) SwitchToActive() {
	s.isActive.Store(true)
}

// SwitchToInactive clears every handle, route, and session-info entry
// under the service mutex. Outstanding handles become invalid: operations
// gated on the active state return Fail, while DestroyMediaKeys and
// close/release of a now-unknown session return BadSessionId.
func (s *Service) SwitchToInactive() {
	s.isActive.Store(false)

	s.mu.Lock()
	s.mediaKeysById = make(map[types.MediaKeysHandle]*mediakeys.MediaKeys)
	s.handleOwner = make(map[types.MediaKeysHandle]ClientID)
	s.clientHandles = make(map[ClientID]map[types.MediaKeysHandle]struct{})
	s.sessionRoute = make(map[types.KeySessionId]keysession.EventSink)
	s.sessionInfo = make(map[types.KeySessionId]*mediaKeySessionInfo)
	s.mu.Unlock()
}

func (s *Service) requireActive() types.MediaKeyErrorStatus {
	if !s.isActive.Load() {
		return types.StatusFail
	}
	return types.StatusOK
}

// ClientConnected records client as connected. The IPC layer is
// responsible for exporting the module service on it.
func (s *Service) ClientConnected(client ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clientHandles[client]; !ok {
		s.clientHandles[client] = make(map[types.MediaKeysHandle]struct{})
	}
}

// ClientDisconnected destroys every MediaKeys handle owned by client.
// Other clients are unaffected.
func (s *Service) ClientDisconnected(ctx context.Context, client ClientID) {
	s.mu.Lock()
	handles := make([]types.MediaKeysHandle, 0, len(s.clientHandles[client]))
	for h := range s.clientHandles[client] {
		handles = append(handles, h)
	}
	delete(s.clientHandles, client)
	s.mu.Unlock()

	for _, h := range handles {
		s.DestroyMediaKeys(ctx, h)
	}
}

// CreateMediaKeys allocates a new MediaKeys scoped to keySystem, owned by
// client, and returns its handle.
func (s *Service) CreateMediaKeys(ctx context.Context, client ClientID, keySystem types.KeySystem) (types.MediaKeysHandle, types.MediaKeyErrorStatus, error) {
	if status := s.requireActive(); !status.Ok() {
		return types.InvalidMediaKeysHandle, status, nil
	}

	mk, err := mediakeys.New(ctx, s.mainThread, s.factory, keySystem)
	if err != nil {
		return types.InvalidMediaKeysHandle, types.StatusFail, nil
	}

	s.mu.Lock()
	handle := s.nextHandle
	s.nextHandle++
	s.mediaKeysById[handle] = mk
	s.handleOwner[handle] = client
	if _, ok := s.clientHandles[client]; !ok {
		s.clientHandles[client] = make(map[types.MediaKeysHandle]struct{})
	}
	s.clientHandles[client][handle] = struct{}{}
	s.mu.Unlock()

	return handle, types.StatusOK, nil
}

// DestroyMediaKeys tears down the MediaKeys behind handle and forgets it.
func (s *Service) DestroyMediaKeys(ctx context.Context, handle types.MediaKeysHandle) types.MediaKeyErrorStatus {
	s.mu.Lock()
	mk, ok := s.mediaKeysById[handle]
	if ok {
		owner := s.handleOwner[handle]
		delete(s.mediaKeysById, handle)
		delete(s.handleOwner, handle)
		if set, ok := s.clientHandles[owner]; ok {
			delete(set, handle)
		}
	}
	s.mu.Unlock()

	if !ok {
		return types.StatusBadSessionId
	}
	if err := mk.Destroy(ctx); err != nil {
		return types.StatusFail
	}
	return types.StatusOK
}

func (s *Service) mediaKeysFor(handle types.MediaKeysHandle) (*mediakeys.MediaKeys, types.MediaKeyErrorStatus) {
	if status := s.requireActive(); !status.Ok() {
		return nil, status
	}
	s.mu.Lock()
	mk, ok := s.mediaKeysById[handle]
	s.mu.Unlock()
	if !ok {
		return nil, types.StatusBadSessionId
	}
	return mk, types.StatusOK
}

// CreateKeySession creates a session on the MediaKeys behind handle,
// registers its event routing and session-info record, and returns its id.
func (s *Service) CreateKeySession(ctx context.Context, handle types.MediaKeysHandle, sessionType types.KeySessionType, events keysession.EventSink) (types.KeySessionId, types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysFor(handle)
	if !status.Ok() {
		return types.InvalidKeySessionId, status, nil
	}

	id, status, err := mk.CreateKeySession(ctx, sessionType, events)
	if err != nil || !status.Ok() {
		return id, status, err
	}

	s.mu.Lock()
	s.sessionRoute[id] = events
	s.sessionInfo[id] = &mediaKeySessionInfo{
		mediaKeysHandle:    handle,
		isNetflixPlayready: mk.IsNetflixKeySystem(id),
	}
	s.mu.Unlock()

	return id, status, nil
}

// IsNetflixPlayreadyKeySystem reports the Netflix-PlayReady flag cached on
// the session's info record at CreateKeySession. Unknown ids report false.
func (s *Service) IsNetflixPlayreadyKeySystem(id types.KeySessionId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessionInfo[id]
	return ok && info.isNetflixPlayready
}

func (s *Service) mediaKeysForSession(id types.KeySessionId) (*mediakeys.MediaKeys, types.MediaKeyErrorStatus) {
	if status := s.requireActive(); !status.Ok() {
		return nil, status
	}
	s.mu.Lock()
	info, ok := s.sessionInfo[id]
	s.mu.Unlock()
	if !ok {
		return nil, types.StatusBadSessionId
	}
	return s.mediaKeysFor(info.mediaKeysHandle)
}

func (s *Service) GenerateRequest(ctx context.Context, id types.KeySessionId, initDataType types.InitDataType, initData []byte, ldl types.LimitedDurationLicense) (types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return status, nil
	}
	return mk.GenerateRequest(ctx, id, initDataType, initData, ldl)
}

func (s *Service) LoadSession(ctx context.Context, id types.KeySessionId) (types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return status, nil
	}
	return mk.LoadSession(ctx, id)
}

func (s *Service) UpdateSession(ctx context.Context, id types.KeySessionId, response []byte) (types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return status, nil
	}
	return mk.UpdateSession(ctx, id, response)
}

func (s *Service) SetDrmHeader(ctx context.Context, id types.KeySessionId, header []byte) (types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return status, nil
	}
	return mk.SetDrmHeader(ctx, id, header)
}

func (s *Service) SelectKeyId(ctx context.Context, id types.KeySessionId, keyId []byte) (types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return status, nil
	}
	return mk.SelectKeyId(ctx, id, keyId)
}

func (s *Service) ContainsKey(ctx context.Context, id types.KeySessionId, keyId []byte) (bool, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return false, nil
	}
	return mk.ContainsKey(ctx, id, keyId)
}

func (s *Service) GetCdmKeySessionId(ctx context.Context, id types.KeySessionId) (types.CdmKeySessionId, types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return "", status, nil
	}
	return mk.GetCdmKeySessionId(ctx, id)
}

func (s *Service) GetLastDrmError(ctx context.Context, id types.KeySessionId) (uint32, types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return 0, status, nil
	}
	return mk.GetLastDrmError(ctx, id)
}

func (s *Service) Decrypt(ctx context.Context, id types.KeySessionId, encrypted, caps []byte) (types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return status, nil
	}
	return mk.Decrypt(ctx, id, encrypted, caps)
}

func (s *Service) DecryptLegacy(ctx context.Context, id types.KeySessionId, encrypted, subSample []byte, subSampleCount uint32, iv, keyId []byte, initWithLast15 uint32, caps []byte) (types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return status, nil
	}
	return mk.DecryptLegacy(ctx, id, encrypted, subSample, subSampleCount, iv, keyId, initWithLast15, caps)
}

// CloseKeySession mirrors the MediaKeys counter with the service's own
// refCounter: a session still referenced by the media pipeline is marked
// shouldBeClosed instead of torn down immediately.
func (s *Service) CloseKeySession(ctx context.Context, id types.KeySessionId) (types.MediaKeyErrorStatus, error) {
	return s.closeOrRelease(ctx, id, false)
}

// ReleaseKeySession is CloseKeySession's counterpart for the release path.
func (s *Service) ReleaseKeySession(ctx context.Context, id types.KeySessionId) (types.MediaKeyErrorStatus, error) {
	return s.closeOrRelease(ctx, id, true)
}

func (s *Service) closeOrRelease(ctx context.Context, id types.KeySessionId, release bool) (types.MediaKeyErrorStatus, error) {
	s.mu.Lock()
	info, ok := s.sessionInfo[id]
	if !ok {
		s.mu.Unlock()
		return types.StatusBadSessionId, nil
	}
	if info.refCounter > 0 {
		if release {
			info.shouldBeReleased = true
		} else {
			info.shouldBeClosed = true
		}
		s.mu.Unlock()
		return types.StatusOK, nil
	}
	handle := info.mediaKeysHandle
	delete(s.sessionInfo, id)
	delete(s.sessionRoute, id)
	s.mu.Unlock()

	mk, status := s.mediaKeysFor(handle)
	if !status.Ok() {
		return status, nil
	}
	if release {
		return mk.ReleaseKeySession(ctx, id)
	}
	return mk.CloseKeySession(ctx, id)
}

// IncrementSessionIdUsageCounter pins id against deferred teardown at the
// service layer (a distinct refcount from MediaKeys' own bufCounter).
func (s *Service) IncrementSessionIdUsageCounter(id types.KeySessionId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.sessionInfo[id]; ok {
		info.refCounter++
	}
}

// DecrementSessionIdUsageCounter unpins id, performing a deferred close
// before a deferred release if both were requested, per spec §4.4.
func (s *Service) DecrementSessionIdUsageCounter(ctx context.Context, id types.KeySessionId) (types.MediaKeyErrorStatus, error) {
	s.mu.Lock()
	info, ok := s.sessionInfo[id]
	if !ok {
		s.mu.Unlock()
		return types.StatusOK, nil
	}
	if info.refCounter > 0 {
		info.refCounter--
	}
	doClose := info.refCounter == 0 && info.shouldBeClosed
	doRelease := info.refCounter == 0 && !doClose && info.shouldBeReleased
	handle := info.mediaKeysHandle
	if doClose || doRelease {
		delete(s.sessionInfo, id)
		delete(s.sessionRoute, id)
	}
	s.mu.Unlock()

	if !doClose && !doRelease {
		return types.StatusOK, nil
	}

	mk, status := s.mediaKeysFor(handle)
	if !status.Ok() {
		return status, nil
	}
	if doClose {
		return mk.CloseKeySession(ctx, id)
	}
	return mk.ReleaseKeySession(ctx, id)
}

// RemoveKeySession forwards to the owning MediaKeys unconditionally — it
// does not participate in the close/release deferred-teardown dance.
func (s *Service) RemoveKeySession(ctx context.Context, id types.KeySessionId) (types.MediaKeyErrorStatus, error) {
	mk, status := s.mediaKeysForSession(id)
	if !status.Ok() {
		return status, nil
	}
	return mk.RemoveKeySession(ctx, id)
}

// GetSupportedKeySystems probes each statically known key system and
// returns only those the DRM reports as supported, preserving static
// order.
func (s *Service) GetSupportedKeySystems(ctx context.Context) ([]types.KeySystem, types.MediaKeyErrorStatus) {
	if status := s.requireActive(); !status.Ok() {
		return nil, status
	}

	var supported []types.KeySystem
	for _, ks := range staticKeySystems {
		if s.supportsKeySystem(ctx, ks) {
			supported = append(supported, ks)
		}
	}
	return supported, types.StatusOK
}

func (s *Service) SupportsKeySystem(ctx context.Context, keySystem types.KeySystem) (bool, types.MediaKeyErrorStatus) {
	if status := s.requireActive(); !status.Ok() {
		return false, status
	}
	return s.supportsKeySystem(ctx, keySystem), types.StatusOK
}

// supportsKeySystem instantiates a scoped System and destroys it again, all
// within one Main Thread turn, and reports whether construction succeeded.
func (s *Service) supportsKeySystem(ctx context.Context, keySystem types.KeySystem) bool {
	var ok bool
	s.mainThread.EnqueueAndWait(ctx, func() {
		sys, err := drm.NewSystem(s.factory, keySystem)
		if err != nil {
			return
		}
		defer sys.Destroy()
		ok = true
	})
	return ok
}

// GetSupportedKeySystemVersion instantiates a scoped System for keySystem
// and reports its version; failure clears the out value and returns false.
// Concurrent probes for the same key system are coalesced via singleflight
// so a burst of capability queries issues one scoped System construction,
// not one per caller.
func (s *Service) GetSupportedKeySystemVersion(ctx context.Context, keySystem types.KeySystem) (string, bool, types.MediaKeyErrorStatus) {
	if status := s.requireActive(); !status.Ok() {
		return "", false, status
	}

	result, err, _ := s.versionProbe.Do(string(keySystem), func() (any, error) {
		var version string
		var ok bool
		probeErr := s.mainThread.EnqueueAndWait(ctx, func() {
			sys, err := drm.NewSystem(s.factory, keySystem)
			if err != nil {
				return
			}
			defer sys.Destroy()

			v, status := sys.GetVersion()
			if !status.Ok() {
				return
			}
			version, ok = v, true
		})
		return versionProbeResult{version: version, ok: ok}, probeErr
	})
	if err != nil {
		return "", false, types.StatusOK
	}

	r := result.(versionProbeResult)
	return r.version, r.ok, types.StatusOK
}

func (s *Service) IsServerCertificateSupported(ctx context.Context, keySystem types.KeySystem) (bool, types.MediaKeyErrorStatus) {
	if status := s.requireActive(); !status.Ok() {
		return false, status
	}

	var supported bool
	err := s.mainThread.EnqueueAndWait(ctx, func() {
		sys, err := drm.NewSystem(s.factory, keySystem)
		if err != nil {
			return
		}
		defer sys.Destroy()
		supported = sys.SupportsServerCertificate()
	})
	if err != nil {
		return false, types.StatusFail
	}
	return supported, types.StatusOK
}

// versionProbeResult is the value cached/shared by a singleflight call in
// GetSupportedKeySystemVersion.
type versionProbeResult struct {
	version string
	ok      bool
}

// Ping is a heartbeat operation mirroring the upstream service's liveness
// check: it succeeds iff the service is active.
func (s *Service) Ping() types.MediaKeyErrorStatus {
	return s.requireActive()
}

// SessionSummary is a read-only snapshot of one live key session, surfaced
// to admin tooling (the CLI's `sessions list`/`sessions close`) that has no
// business reaching into Service's internal maps directly.
type SessionSummary struct {
	KeySessionId     types.KeySessionId
	MediaKeysHandle  types.MediaKeysHandle
	KeySystem        types.KeySystem
	RefCounter       uint
	ShouldBeClosed   bool
	ShouldBeReleased bool
}

// ListSessions returns a snapshot of every live key session.
func (s *Service) ListSessions() []SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SessionSummary, 0, len(s.sessionInfo))
	for id, info := range s.sessionInfo {
		var keySystem types.KeySystem
		if mk, ok := s.mediaKeysById[info.mediaKeysHandle]; ok {
			keySystem = mk.KeySystem()
		}
		out = append(out, SessionSummary{
			KeySessionId:     id,
			MediaKeysHandle:  info.mediaKeysHandle,
			KeySystem:        keySystem,
			RefCounter:       info.refCounter,
			ShouldBeClosed:   info.shouldBeClosed,
			ShouldBeReleased: info.shouldBeReleased,
		})
	}
	return out
}
