// Package keysession implements the per-session EME/CDM state machine: one
// instance owns exactly one DRM session, tracks its construction/challenge/
// update/close phases, aggregates key-status updates, and fans out license
// events to the client that created it.
//
// Every exported method is documented as running on the Main Thread; this
// package enforces that only via its own internal mutex (the error-trap
// lock) for operations callers already invoke from there. The three
// inbound native-DRM callbacks (OnProcessChallenge, OnKeyUpdated,
// OnAllKeysUpdated) are different: the native library delivers them from
// its own threads, not from the Main Thread, so KeySession holds a
// MainThread reference and enqueues their bodies onto it itself (spec §5,
// §9's "route inbound callbacks through enqueueTask"), rather than trusting
// the caller to have already hopped there.
package keysession

import (
	"sync"

	"github.com/rialto-project/cdm-server/internal/cdm/mainthread"
	"github.com/rialto-project/cdm-server/internal/cdm/types"
	"github.com/rialto-project/cdm-server/internal/drm"
)

// EventSink receives the three asynchronous events a KeySession can emit.
// One EventSink is bound per (MediaKeysHandle, IPC client) pair; KeySession
// holds it as a non-owning reference — see the adapter's own weak
// back-reference to its SessionClient for the same pattern one layer down.
type EventSink interface {
	OnLicenseRequest(keySessionId types.KeySessionId, url string, message []byte)
	OnLicenseRenewal(keySessionId types.KeySessionId, message []byte)
	OnKeyStatusesChanged(keySessionId types.KeySessionId, statuses types.KeyStatusVector)
}

// KeySession is the per-session state machine described above. Construction
// is its only throwing path: everything else returns a MediaKeyErrorStatus.
type KeySession struct {
	keySystem    types.KeySystem
	keySessionId types.KeySessionId
	sessionType  types.KeySessionType
	isLDL        bool
	events       EventSink

	session    drm.SessionAPI
	mainThread *mainthread.MainThread

	mu                   sync.Mutex
	isSessionConstructed bool
	licenseRequested     bool
	selectedKeyId        []byte
	keyStatuses          types.KeyStatusVector

	ongoingOcdmOperation bool
	ocdmError            bool
}

// New constructs a KeySession bound to session's native DRM handle. It does
// not itself create the DRM session — that happens lazily, on the first
// generateRequest call, per spec. mainThread is the queue OnProcessChallenge/
// OnKeyUpdated/OnAllKeysUpdated enqueue onto, so a native callback thread
// never runs a DRM call or touches session state directly.
func New(keySystem types.KeySystem, id types.KeySessionId, sessionType types.KeySessionType, isLDL bool, events EventSink, session drm.SessionAPI, mainThread *mainthread.MainThread) *KeySession {
	return &KeySession{
		keySystem:    keySystem,
		keySessionId: id,
		sessionType:  sessionType,
		isLDL:        isLDL,
		events:       events,
		session:      session,
		mainThread:   mainThread,
	}
}

func (k *KeySession) KeySessionId() types.KeySessionId { return k.keySessionId }

// IsNetflixPlayready reports whether this session's key system belongs to
// the Netflix-PlayReady family, the one branch point shared by several
// operations below.
func (k *KeySession) IsNetflixPlayready() bool { return k.keySystem.IsNetflixPlayReady() }

// beginOcdmOp arms the error trap before a DRM-forwarding call and returns
// the function that must run on every return path to rewrite a false
// success into Fail if a callback reported one during the call.
func (k *KeySession) beginOcdmOp() func(status types.MediaKeyErrorStatus) types.MediaKeyErrorStatus {
	k.mu.Lock()
	k.ongoingOcdmOperation = true
	k.ocdmError = false
	k.mu.Unlock()

	return func(status types.MediaKeyErrorStatus) types.MediaKeyErrorStatus {
		k.mu.Lock()
		defer k.mu.Unlock()
		k.ongoingOcdmOperation = false
		if k.ocdmError {
			return types.StatusFail
		}
		return status
	}
}

// GenerateRequest implements spec §4.2's two-shaped operation: the first
// call constructs the DRM session (except for Netflix-PlayReady, which
// never sets licenseRequested); later calls either fetch and emit a
// challenge directly (Netflix-PlayReady) or are a no-op OK for everyone
// else, since their first call already triggered the challenge via
// callback — the later code path's behavior, which spec.md favors over
// the older path's Fail.
func (k *KeySession) GenerateRequest(initDataType types.InitDataType, initData []byte, ldl types.LimitedDurationLicense) types.MediaKeyErrorStatus {
	k.mu.Lock()
	alreadyConstructed := k.isSessionConstructed
	k.isLDL = ldl == types.LDLEnabled
	k.mu.Unlock()

	if !alreadyConstructed {
		return k.generateRequestFirstCall(initDataType, initData)
	}
	if k.IsNetflixPlayready() {
		return k.generateRequestNetflixRenewal()
	}
	return types.StatusOK
}

func (k *KeySession) generateRequestFirstCall(initDataType types.InitDataType, initData []byte) types.MediaKeyErrorStatus {
	if !k.IsNetflixPlayready() {
		k.mu.Lock()
		k.licenseRequested = true
		k.mu.Unlock()
	}

	end := k.beginOcdmOp()
	status := k.session.ConstructSession(k.sessionType, initDataType, initData)
	status = end(status)

	if status.Ok() {
		k.mu.Lock()
		k.isSessionConstructed = true
		k.mu.Unlock()
	}
	return status
}

// generateRequestNetflixRenewal performs the explicit two-DRM-call challenge
// fetch Netflix-PlayReady uses in place of the processChallenge callback
// path every other key system takes on its first call.
func (k *KeySession) generateRequestNetflixRenewal() types.MediaKeyErrorStatus {
	end := k.beginOcdmOp()
	challenge, status := k.session.GetChallengeData(k.isLDL)
	status = end(status)
	if !status.Ok() {
		return status
	}

	if k.events != nil {
		k.events.OnLicenseRequest(k.keySessionId, "", challenge)
	}
	return types.StatusOK
}

func (k *KeySession) LoadSession() types.MediaKeyErrorStatus {
	end := k.beginOcdmOp()
	return end(k.session.Load())
}

// UpdateSession branches on key-system family: Netflix-PlayReady stores the
// response as license data, every other family treats it as a session
// update. No session ever receives both calls for one UpdateSession.
func (k *KeySession) UpdateSession(response []byte) types.MediaKeyErrorStatus {
	end := k.beginOcdmOp()
	var status types.MediaKeyErrorStatus
	if k.IsNetflixPlayready() {
		status = k.session.StoreLicenseData(response)
	} else {
		status = k.session.Update(response)
	}
	return end(status)
}

func (k *KeySession) SetDrmHeader(header []byte) types.MediaKeyErrorStatus {
	end := k.beginOcdmOp()
	return end(k.session.SetDrmHeader(header))
}

// SelectKeyId deduplicates: re-selecting the currently selected keyId
// returns OK without touching the DRM.
func (k *KeySession) SelectKeyId(keyId []byte) types.MediaKeyErrorStatus {
	k.mu.Lock()
	if bytesEqual(k.selectedKeyId, keyId) {
		k.mu.Unlock()
		return types.StatusOK
	}
	k.mu.Unlock()

	end := k.beginOcdmOp()
	status := end(k.session.SelectKeyId(keyId))
	if status.Ok() {
		k.mu.Lock()
		k.selectedKeyId = append([]byte(nil), keyId...)
		k.mu.Unlock()
	}
	return status
}

func (k *KeySession) ContainsKey(keyId []byte) bool {
	return k.session.HasKeyId(keyId)
}

func (k *KeySession) GetCdmKeySessionId() (types.CdmKeySessionId, types.MediaKeyErrorStatus) {
	end := k.beginOcdmOp()
	id, status := k.session.GetCdmKeySessionId()
	return id, end(status)
}

// GetLastDrmError mirrors the adapter's own open question: the status
// channel always reads OK, the real code travels in errorCode.
func (k *KeySession) GetLastDrmError() (errorCode uint32, status types.MediaKeyErrorStatus) {
	code, status := k.session.GetLastDrmError()
	return code, status
}

func (k *KeySession) RemoveKeySession() types.MediaKeyErrorStatus {
	end := k.beginOcdmOp()
	return end(k.session.Remove())
}

// CloseKeySession runs the two-shaped close state machine from spec §4.2,
// short-circuiting on the first non-OK status.
func (k *KeySession) CloseKeySession() types.MediaKeyErrorStatus {
	k.mu.Lock()
	constructed := k.isSessionConstructed
	k.mu.Unlock()
	if !constructed {
		return types.StatusOK
	}

	if k.IsNetflixPlayready() {
		return k.runCloseSequence(
			k.session.CancelChallengeData,
			k.session.CleanDecryptContext,
			k.session.DestructSession,
		)
	}
	return k.runCloseSequence(
		k.session.Close,
		k.session.DestructSession,
	)
}

func (k *KeySession) runCloseSequence(steps ...func() types.MediaKeyErrorStatus) types.MediaKeyErrorStatus {
	for _, step := range steps {
		end := k.beginOcdmOp()
		status := end(step())
		if !status.Ok() {
			return status
		}
	}
	return types.StatusOK
}

func (k *KeySession) Decrypt(encrypted, caps []byte) types.MediaKeyErrorStatus {
	end := k.beginOcdmOp()
	return end(k.session.DecryptBuffer(encrypted, caps))
}

func (k *KeySession) DecryptLegacy(encrypted, subSample []byte, subSampleCount uint32, iv, keyId []byte, initWithLast15 uint32, caps []byte) types.MediaKeyErrorStatus {
	end := k.beginOcdmOp()
	return end(k.session.DecryptLegacy(encrypted, subSample, subSampleCount, iv, keyId, initWithLast15, caps))
}

// OnProcessChallenge implements drm.SessionClient. The native library
// delivers this from its own thread, never the Main Thread, so the work is
// enqueued rather than run inline (spec §5/§9): it preserves ordering
// against every other Main-Thread mutation and keeps this callback from
// racing an in-flight DRM operation on the same session. The
// licenseRequested flag decides whether this is the session's first
// challenge (a license request) or a subsequent one (a renewal); it is
// cleared the first time either way.
func (k *KeySession) OnProcessChallenge(url string, challenge []byte) {
	_ = k.mainThread.Enqueue(func() {
		k.mu.Lock()
		wasRequested := k.licenseRequested
		k.licenseRequested = false
		k.mu.Unlock()

		if k.events == nil {
			return
		}
		if wasRequested {
			k.events.OnLicenseRequest(k.keySessionId, url, challenge)
		} else {
			k.events.OnLicenseRenewal(k.keySessionId, challenge)
		}
	})
}

// OnKeyUpdated pulls the current status for keyId and appends it to the
// accumulated vector; it does not emit anything itself. Enqueued onto the
// Main Thread like OnProcessChallenge: session.GetStatus is itself a DRM
// call, and running it straight off the native callback thread could
// overlap a DRM operation already in flight on the Main Thread for this
// same session.
func (k *KeySession) OnKeyUpdated(keyId []byte) {
	_ = k.mainThread.Enqueue(func() {
		status := k.session.GetStatus(keyId)
		k.mu.Lock()
		k.keyStatuses = append(k.keyStatuses, types.KeyStatusPair{KeyId: append([]byte(nil), keyId...), Status: status})
		k.mu.Unlock()
	})
}

// OnAllKeysUpdated emits the accumulated vector as one event and resets it.
// Enqueued alongside OnKeyUpdated so the two stay ordered relative to each
// other and to every other Main-Thread task, per the "aggregated vector is
// delivered once and in the same order" guarantee.
func (k *KeySession) OnAllKeysUpdated() {
	_ = k.mainThread.Enqueue(func() {
		k.mu.Lock()
		statuses := k.keyStatuses
		k.keyStatuses = nil
		k.mu.Unlock()

		if k.events != nil {
			k.events.OnKeyStatusesChanged(k.keySessionId, statuses)
		}
	})
}

// OnError arms the error trap; it never surfaces a status on its own. Unlike
// the other three callbacks, this one is *not* routed through the Main
// Thread: the error trap exists precisely to catch a native error reported
// via callback during an in-flight, synchronously-awaited DRM call, and its
// own dedicated mutex (spec §9's "Error trap", §5's
// KeySession::m_ocdmErrorMutex) is what lets it be observed the instant the
// call returns — deferring it onto the queue would let that call's
// `end()` run before the flag is set.
func (k *KeySession) OnError(string) {
	k.mu.Lock()
	if k.ongoingOcdmOperation {
		k.ocdmError = true
	}
	k.mu.Unlock()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ drm.SessionClient = (*KeySession)(nil)
