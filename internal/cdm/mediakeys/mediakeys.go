// Package mediakeys implements Media Keys (C3): a per-key-system facade
// owning one DRM System handle and every KeySession created against it.
// Every public operation runs on the Main Thread via enqueue-and-wait
// (spec §4.3); internal helpers that assume they are already running on
// the Main Thread carry the Internal suffix.
package mediakeys

import (
	"context"
	"sync"

	"github.com/rialto-project/cdm-server/internal/cdm/keysession"
	"github.com/rialto-project/cdm-server/internal/cdm/mainthread"
	"github.com/rialto-project/cdm-server/internal/cdm/types"
	"github.com/rialto-project/cdm-server/internal/drm"
)

const (
	metricDataInitialSize = 1024
	metricDataMaxSize     = 65536
	metricDataMaxRetries  = 6
)

// KeySessionIds are minted from one process-wide counter, so ids never
// collide across MediaKeys instances.
var (
	keySessionIdMu   sync.Mutex
	nextKeySessionId types.KeySessionId
)

// sessionUsage is the KeySessionUsage record from spec §3: an owned
// KeySession plus the buffer-pin counter and deferred-teardown flags that
// drive the session-id usage counter protocol.
type sessionUsage struct {
	owned             *keysession.KeySession
	bufCounter        uint
	shouldBeDestroyed bool
	shouldBeReleased  bool
}

// MediaKeys owns one DRM System scoped to a single key system, and every
// KeySession created against it.
type MediaKeys struct {
	keySystem  types.KeySystem
	mainThread *mainthread.MainThread
	system     drm.SystemAPI

	mu       sync.Mutex
	sessions map[types.KeySessionId]*sessionUsage
}

// New constructs a MediaKeys for keySystem. Construction enqueues the task
// that creates the underlying DRM System onto the Main Thread; if creation
// fails, New returns an error — the only throwing path, per spec §4.3.
func New(ctx context.Context, mainThread *mainthread.MainThread, factory drm.SystemFactory, keySystem types.KeySystem) (*MediaKeys, error) {
	mk := &MediaKeys{
		keySystem:  keySystem,
		mainThread: mainThread,
		sessions:   make(map[types.KeySessionId]*sessionUsage),
	}

	var constructErr error
	err := mainThread.EnqueueAndWait(ctx, func() {
		sys, err := drm.NewSystem(factory, keySystem)
		if err != nil {
			constructErr = err
			return
		}
		mk.system = sys
	})
	if err != nil {
		return nil, err
	}
	if constructErr != nil {
		return nil, constructErr
	}
	return mk, nil
}

// Destroy runs the close state machine on every outstanding KeySession, then
// tears down the underlying DRM System. Running the close sequence here
// (rather than requiring the caller to have closed every session first) is
// what keeps isSessionConstructed's true-to-false transition (spec §3,
// invariant ii) happening exactly once even when a client disconnects or
// crashes without closing its sessions (spec §4.2).
func (mk *MediaKeys) Destroy(ctx context.Context) error {
	return mk.mainThread.EnqueueAndWait(ctx, func() {
		mk.mu.Lock()
		sessions := make([]*sessionUsage, 0, len(mk.sessions))
		for _, usage := range mk.sessions {
			sessions = append(sessions, usage)
		}
		mk.sessions = make(map[types.KeySessionId]*sessionUsage)
		mk.mu.Unlock()

		for _, usage := range sessions {
			usage.owned.CloseKeySession()
		}

		mk.system.Destroy()
	})
}

// CreateKeySession allocates a new KeySession bound to a freshly created
// DRM session, and registers it under a newly minted KeySessionId.
func (mk *MediaKeys) CreateKeySession(ctx context.Context, sessionType types.KeySessionType, events keysession.EventSink) (types.KeySessionId, types.MediaKeyErrorStatus, error) {
	var id types.KeySessionId
	var status types.MediaKeyErrorStatus

	err := mk.mainThread.EnqueueAndWait(ctx, func() {
		id, status = mk.createKeySessionInternal(sessionType, events)
	})
	if err != nil {
		return types.InvalidKeySessionId, types.StatusFail, err
	}
	return id, status, nil
}

func (mk *MediaKeys) createKeySessionInternal(sessionType types.KeySessionType, events keysession.EventSink) (types.KeySessionId, types.MediaKeyErrorStatus) {
	var ks *keysession.KeySession
	session, status := mk.system.CreateSession(sessionClientAdapter{target: func() drm.SessionClient { return ks }})
	if !status.Ok() {
		return types.InvalidKeySessionId, status
	}

	keySessionIdMu.Lock()
	id := nextKeySessionId
	nextKeySessionId++
	keySessionIdMu.Unlock()

	ks = keysession.New(mk.keySystem, id, sessionType, false, events, session, mk.mainThread)

	mk.mu.Lock()
	mk.sessions[id] = &sessionUsage{owned: ks}
	mk.mu.Unlock()

	return id, types.StatusOK
}

// sessionClientAdapter exists only so CreateSession's callback relay can be
// bound before the KeySession it forwards to has been constructed — the
// DRM adapter requires a client at CreateSession time, but the KeySession
// itself is the client and does not exist yet at that point.
type sessionClientAdapter struct {
	target func() drm.SessionClient
}

func (a sessionClientAdapter) OnProcessChallenge(url string, challenge []byte) {
	a.target().OnProcessChallenge(url, challenge)
}
func (a sessionClientAdapter) OnKeyUpdated(keyId []byte) { a.target().OnKeyUpdated(keyId) }
func (a sessionClientAdapter) OnAllKeysUpdated()         { a.target().OnAllKeysUpdated() }
func (a sessionClientAdapter) OnError(message string)    { a.target().OnError(message) }

func (mk *MediaKeys) withSession(id types.KeySessionId, fn func(*sessionUsage) types.MediaKeyErrorStatus) types.MediaKeyErrorStatus {
	mk.mu.Lock()
	usage, ok := mk.sessions[id]
	mk.mu.Unlock()
	if !ok {
		return types.StatusBadSessionId
	}
	return fn(usage)
}

func (mk *MediaKeys) GenerateRequest(ctx context.Context, id types.KeySessionId, initDataType types.InitDataType, initData []byte, ldl types.LimitedDurationLicense) (types.MediaKeyErrorStatus, error) {
	var status types.MediaKeyErrorStatus
	err := mk.mainThread.EnqueueAndWait(ctx, func() {
		status = mk.withSession(id, func(u *sessionUsage) types.MediaKeyErrorStatus {
			return u.owned.GenerateRequest(initDataType, initData, ldl)
		})
	})
	return status, err
}

func (mk *MediaKeys) LoadSession(ctx context.Context, id types.KeySessionId) (types.MediaKeyErrorStatus, error) {
	return mk.forward(ctx, id, func(k *keysession.KeySession) types.MediaKeyErrorStatus { return k.LoadSession() })
}

func (mk *MediaKeys) UpdateSession(ctx context.Context, id types.KeySessionId, response []byte) (types.MediaKeyErrorStatus, error) {
	return mk.forward(ctx, id, func(k *keysession.KeySession) types.MediaKeyErrorStatus { return k.UpdateSession(response) })
}

func (mk *MediaKeys) SetDrmHeader(ctx context.Context, id types.KeySessionId, header []byte) (types.MediaKeyErrorStatus, error) {
	return mk.forward(ctx, id, func(k *keysession.KeySession) types.MediaKeyErrorStatus { return k.SetDrmHeader(header) })
}

func (mk *MediaKeys) SelectKeyId(ctx context.Context, id types.KeySessionId, keyId []byte) (types.MediaKeyErrorStatus, error) {
	return mk.forward(ctx, id, func(k *keysession.KeySession) types.MediaKeyErrorStatus { return k.SelectKeyId(keyId) })
}

func (mk *MediaKeys) ContainsKey(ctx context.Context, id types.KeySessionId, keyId []byte) (bool, error) {
	var found bool
	err := mk.mainThread.EnqueueAndWait(ctx, func() {
		mk.withSession(id, func(u *sessionUsage) types.MediaKeyErrorStatus {
			found = u.owned.ContainsKey(keyId)
			return types.StatusOK
		})
	})
	return found, err
}

func (mk *MediaKeys) GetCdmKeySessionId(ctx context.Context, id types.KeySessionId) (types.CdmKeySessionId, types.MediaKeyErrorStatus, error) {
	var cdmId types.CdmKeySessionId
	var status types.MediaKeyErrorStatus
	err := mk.mainThread.EnqueueAndWait(ctx, func() {
		status = mk.withSession(id, func(u *sessionUsage) types.MediaKeyErrorStatus {
			var s types.MediaKeyErrorStatus
			cdmId, s = u.owned.GetCdmKeySessionId()
			return s
		})
	})
	return cdmId, status, err
}

func (mk *MediaKeys) GetLastDrmError(ctx context.Context, id types.KeySessionId) (uint32, types.MediaKeyErrorStatus, error) {
	var code uint32
	var status types.MediaKeyErrorStatus
	err := mk.mainThread.EnqueueAndWait(ctx, func() {
		status = mk.withSession(id, func(u *sessionUsage) types.MediaKeyErrorStatus {
			var s types.MediaKeyErrorStatus
			code, s = u.owned.GetLastDrmError()
			return s
		})
	})
	return code, status, err
}

func (mk *MediaKeys) RemoveKeySession(ctx context.Context, id types.KeySessionId) (types.MediaKeyErrorStatus, error) {
	return mk.forward(ctx, id, func(k *keysession.KeySession) types.MediaKeyErrorStatus { return k.RemoveKeySession() })
}

func (mk *MediaKeys) Decrypt(ctx context.Context, id types.KeySessionId, encrypted, caps []byte) (types.MediaKeyErrorStatus, error) {
	return mk.forward(ctx, id, func(k *keysession.KeySession) types.MediaKeyErrorStatus { return k.Decrypt(encrypted, caps) })
}

func (mk *MediaKeys) DecryptLegacy(ctx context.Context, id types.KeySessionId, encrypted, subSample []byte, subSampleCount uint32, iv, keyId []byte, initWithLast15 uint32, caps []byte) (types.MediaKeyErrorStatus, error) {
	return mk.forward(ctx, id, func(k *keysession.KeySession) types.MediaKeyErrorStatus {
		return k.DecryptLegacy(encrypted, subSample, subSampleCount, iv, keyId, initWithLast15, caps)
	})
}

func (mk *MediaKeys) forward(ctx context.Context, id types.KeySessionId, fn func(*keysession.KeySession) types.MediaKeyErrorStatus) (types.MediaKeyErrorStatus, error) {
	var status types.MediaKeyErrorStatus
	err := mk.mainThread.EnqueueAndWait(ctx, func() {
		status = mk.withSession(id, func(u *sessionUsage) types.MediaKeyErrorStatus {
			return fn(u.owned)
		})
	})
	return status, err
}

// CloseKeySession implements the deferred-close half of the session-id
// usage counter protocol: a session still pinned by an in-flight decrypt
// (bufCounter > 0) is marked for deferred close instead of closed
// immediately.
func (mk *MediaKeys) CloseKeySession(ctx context.Context, id types.KeySessionId) (types.MediaKeyErrorStatus, error) {
	var status types.MediaKeyErrorStatus
	err := mk.mainThread.EnqueueAndWait(ctx, func() {
		status = mk.closeKeySessionInternal(id)
	})
	return status, err
}

func (mk *MediaKeys) closeKeySessionInternal(id types.KeySessionId) types.MediaKeyErrorStatus {
	mk.mu.Lock()
	usage, ok := mk.sessions[id]
	mk.mu.Unlock()
	if !ok {
		return types.StatusBadSessionId
	}

	if usage.bufCounter > 0 {
		mk.mu.Lock()
		usage.shouldBeDestroyed = true
		mk.mu.Unlock()
		return types.StatusOK
	}

	status := usage.owned.CloseKeySession()
	mk.mu.Lock()
	delete(mk.sessions, id)
	mk.mu.Unlock()
	return status
}

// ReleaseKeySession mirrors CloseKeySession but tears down via
// RemoveKeySession ("release-and-erase") instead of the close state
// machine, driven by the same bufCounter pin / shouldBeReleased flag.
func (mk *MediaKeys) ReleaseKeySession(ctx context.Context, id types.KeySessionId) (types.MediaKeyErrorStatus, error) {
	var status types.MediaKeyErrorStatus
	err := mk.mainThread.EnqueueAndWait(ctx, func() {
		status = mk.releaseKeySessionInternal(id)
	})
	return status, err
}

func (mk *MediaKeys) releaseKeySessionInternal(id types.KeySessionId) types.MediaKeyErrorStatus {
	mk.mu.Lock()
	usage, ok := mk.sessions[id]
	mk.mu.Unlock()
	if !ok {
		return types.StatusBadSessionId
	}

	if usage.bufCounter > 0 {
		mk.mu.Lock()
		usage.shouldBeReleased = true
		mk.mu.Unlock()
		return types.StatusOK
	}

	status := usage.owned.RemoveKeySession()
	mk.mu.Lock()
	delete(mk.sessions, id)
	mk.mu.Unlock()
	return status
}

// IncrementSessionIdUsageCounter pins id against deferred teardown. Unknown
// ids are a no-op, per spec §4.3.
func (mk *MediaKeys) IncrementSessionIdUsageCounter(id types.KeySessionId) {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	if usage, ok := mk.sessions[id]; ok {
		usage.bufCounter++
	}
}

// DecrementSessionIdUsageCounter unpins id, performing a deferred close if
// one was requested and the counter has reached zero. Never wraps below
// zero; unknown ids are a no-op.
func (mk *MediaKeys) DecrementSessionIdUsageCounter(ctx context.Context, id types.KeySessionId) error {
	return mk.mainThread.EnqueueAndWait(ctx, func() {
		mk.mu.Lock()
		usage, ok := mk.sessions[id]
		if !ok {
			mk.mu.Unlock()
			return
		}
		if usage.bufCounter > 0 {
			usage.bufCounter--
		}
		shouldClose := usage.bufCounter == 0 && usage.shouldBeDestroyed
		shouldRelease := usage.bufCounter == 0 && !shouldClose && usage.shouldBeReleased
		mk.mu.Unlock()

		// Deferred close takes priority over deferred release, mirroring
		// the service layer's own close-before-release ordering (§4.4).
		switch {
		case shouldClose:
			usage.owned.CloseKeySession()
			mk.mu.Lock()
			delete(mk.sessions, id)
			mk.mu.Unlock()
		case shouldRelease:
			usage.owned.RemoveKeySession()
			mk.mu.Lock()
			delete(mk.sessions, id)
			mk.mu.Unlock()
		}
	})
}

// Capability and store operations, delegated straight to the DRM System.

func (mk *MediaKeys) DeleteDrmStore(ctx context.Context) (types.MediaKeyErrorStatus, error) {
	return mk.systemCall(ctx, func() types.MediaKeyErrorStatus { return mk.system.DeleteSecureStore() })
}

func (mk *MediaKeys) DeleteKeyStore(ctx context.Context) (types.MediaKeyErrorStatus, error) {
	return mk.systemCall(ctx, func() types.MediaKeyErrorStatus { return mk.system.DeleteKeyStore() })
}

func (mk *MediaKeys) GetDrmStoreHash(ctx context.Context) ([]byte, types.MediaKeyErrorStatus, error) {
	var hash []byte
	status, err := mk.systemCall(ctx, func() types.MediaKeyErrorStatus {
		var s types.MediaKeyErrorStatus
		hash, s = mk.system.GetSecureStoreHash()
		return s
	})
	return hash, status, err
}

func (mk *MediaKeys) GetKeyStoreHash(ctx context.Context) ([]byte, types.MediaKeyErrorStatus, error) {
	var hash []byte
	status, err := mk.systemCall(ctx, func() types.MediaKeyErrorStatus {
		var s types.MediaKeyErrorStatus
		hash, s = mk.system.GetKeyStoreHash()
		return s
	})
	return hash, status, err
}

func (mk *MediaKeys) GetLdlSessionsLimit(ctx context.Context) (uint32, types.MediaKeyErrorStatus, error) {
	var limit uint32
	status, err := mk.systemCall(ctx, func() types.MediaKeyErrorStatus {
		var s types.MediaKeyErrorStatus
		limit, s = mk.system.GetLdlSessionsLimit()
		return s
	})
	return limit, status, err
}

func (mk *MediaKeys) GetDrmTime(ctx context.Context) (uint64, types.MediaKeyErrorStatus, error) {
	var t uint64
	status, err := mk.systemCall(ctx, func() types.MediaKeyErrorStatus {
		var s types.MediaKeyErrorStatus
		t, s = mk.system.GetDrmTime()
		return s
	})
	return t, status, err
}

func (mk *MediaKeys) systemCall(ctx context.Context, fn func() types.MediaKeyErrorStatus) (types.MediaKeyErrorStatus, error) {
	var status types.MediaKeyErrorStatus
	err := mk.mainThread.EnqueueAndWait(ctx, func() {
		status = fn()
	})
	return status, err
}

// GetMetricSystemData implements the buffer-sizing retry loop from spec
// §4.3: each attempt is a fresh Main Thread enqueue, starting at 1024
// bytes and doubling on BufferTooSmall. At most six attempts are made
// (1024 through 32768 bytes); if the last one still reports
// BufferTooSmall the result is Fail.
func (mk *MediaKeys) GetMetricSystemData(ctx context.Context) ([]byte, types.MediaKeyErrorStatus, error) {
	size := metricDataInitialSize
	for attempt := 0; attempt < metricDataMaxRetries; attempt++ {
		var data []byte
		var status types.MediaKeyErrorStatus
		err := mk.mainThread.EnqueueAndWait(ctx, func() {
			data, status = mk.system.GetMetricSystemData(size)
		})
		if err != nil {
			return nil, types.StatusFail, err
		}
		if status.Ok() {
			return data, status, nil
		}
		if status != types.StatusBufferTooSmall || size >= metricDataMaxSize {
			return nil, types.StatusFail, nil
		}
		size *= 2
	}
	return nil, types.StatusFail, nil
}

// KeySystem reports the key system this MediaKeys instance is scoped to.
func (mk *MediaKeys) KeySystem() types.KeySystem { return mk.keySystem }

// IsPlayreadyKeySystem reports whether this MediaKeys's key system belongs
// to the PlayReady family, including its Netflix variant.
func (mk *MediaKeys) IsPlayreadyKeySystem() bool { return mk.keySystem.IsPlayReady() }

// IsNetflixKeySystem reports whether the session identified by id belongs
// to a Netflix-PlayReady MediaKeys. Unknown ids report false.
func (mk *MediaKeys) IsNetflixKeySystem(id types.KeySessionId) bool {
	mk.mu.Lock()
	_, ok := mk.sessions[id]
	mk.mu.Unlock()
	return ok && mk.keySystem.IsNetflixPlayReady()
}

// SessionCount reports the number of live KeySessions, for tests and
// metrics.
func (mk *MediaKeys) SessionCount() int {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return len(mk.sessions)
}
