package drm

import "github.com/rialto-project/cdm-server/internal/cdm/types"

// NativeErrorCode is the native DRM library's own error vocabulary, as
// returned by the OCDM-style C ABI this package wraps. Native codes never
// escape this package; System and Session translate every one of them
// through MapNativeError before returning to a caller.
type NativeErrorCode int

const (
	NativeErrorNone NativeErrorCode = iota
	NativeErrorInvalidSession
	NativeErrorKeySystemNotSupported
	NativeErrorInterfaceNotImplemented
	NativeErrorBufferTooSmall
	NativeErrorUnknown
)

// MapNativeError translates a native error code into the stable,
// wire-neutral MediaKeyErrorStatus taxonomy. This mapping is total: every
// NativeErrorCode value, known or not, resolves to exactly one status.
func MapNativeError(code NativeErrorCode) types.MediaKeyErrorStatus {
	switch code {
	case NativeErrorNone:
		return types.StatusOK
	case NativeErrorInvalidSession:
		return types.StatusBadSessionId
	case NativeErrorKeySystemNotSupported:
		return types.StatusNotSupported
	case NativeErrorInterfaceNotImplemented:
		return types.StatusInterfaceNotImplemented
	case NativeErrorBufferTooSmall:
		return types.StatusBufferTooSmall
	default:
		return types.StatusFail
	}
}

// NativeSystemHandle is the native OCDM system handle. It is an external
// collaborator: this package defines only the contract a real cgo binding
// must satisfy, never the binding itself.
type NativeSystemHandle interface {
	// GetVersion returns the native library version string for this key
	// system.
	GetVersion() (string, NativeErrorCode)
	// GetLdlSessionsLimit returns the maximum number of limited-duration
	// license sessions this key system permits concurrently.
	GetLdlSessionsLimit() (uint32, NativeErrorCode)
	// DeleteKeyStore wipes the on-disk key store for this key system.
	DeleteKeyStore() NativeErrorCode
	// DeleteSecureStore wipes the on-disk secure store for this key system.
	DeleteSecureStore() NativeErrorCode
	// GetKeyStoreHash fills buf (capacity fixed by the caller) with the key
	// store hash and returns the number of bytes written.
	GetKeyStoreHash(buf []byte) (int, NativeErrorCode)
	// GetSecureStoreHash fills buf with the secure store hash.
	GetSecureStoreHash(buf []byte) (int, NativeErrorCode)
	// GetDrmTime returns the DRM library's notion of current time.
	GetDrmTime() (uint64, NativeErrorCode)
	// CreateSession allocates a new native session bound to callback.
	CreateSession(callback NativeSessionCallback) (NativeSessionHandle, NativeErrorCode)
	// SupportsServerCertificate reports whether this key system accepts a
	// server certificate.
	SupportsServerCertificate() bool
	// GetMetricSystemData fills buf with opaque metric data; returns the
	// number of bytes written, or NativeErrorBufferTooSmall if buf is too
	// small for the available data.
	GetMetricSystemData(buf []byte) (int, NativeErrorCode)
	// Destroy releases the native system handle unconditionally.
	Destroy()
}

// NativeKeyStatusCode is the native OCDM key-status vocabulary: richer than
// the six values KeyStatus exposes, distinguishing several flavors of
// internal failure and of HDCP output restriction that this package
// collapses via MapNativeKeyStatus before they reach a caller.
type NativeKeyStatusCode int

const (
	NativeKeyStatusUsable NativeKeyStatusCode = iota
	NativeKeyStatusExpired
	NativeKeyStatusOutputRestricted
	NativeKeyStatusOutputRestrictedHDCP
	NativeKeyStatusOutputDownscaled
	NativeKeyStatusPending
	NativeKeyStatusInternalError
	NativeKeyStatusReleased
	NativeKeyStatusHWSecurityUnavailable
)

// MapNativeKeyStatus collapses the native key-status vocabulary into
// KeyStatus's six-value EME vocabulary (spec §3): every downscaled, HW, or
// internal variant collapses to KeyStatusInternalError, and every HDCP
// variant collapses to KeyStatusOutputRestricted. The mapping is total —
// any unrecognized code also collapses to KeyStatusInternalError.
func MapNativeKeyStatus(code NativeKeyStatusCode) types.KeyStatus {
	switch code {
	case NativeKeyStatusUsable:
		return types.KeyStatusUsable
	case NativeKeyStatusExpired:
		return types.KeyStatusExpired
	case NativeKeyStatusOutputRestricted, NativeKeyStatusOutputRestrictedHDCP:
		return types.KeyStatusOutputRestricted
	case NativeKeyStatusPending:
		return types.KeyStatusPending
	case NativeKeyStatusReleased:
		return types.KeyStatusReleased
	case NativeKeyStatusOutputDownscaled, NativeKeyStatusHWSecurityUnavailable, NativeKeyStatusInternalError:
		return types.KeyStatusInternalError
	default:
		return types.KeyStatusInternalError
	}
}

// NativeSessionHandle is the native OCDM session handle.
type NativeSessionHandle interface {
	ConstructSession(sessionType types.KeySessionType, initDataType types.InitDataType, initData []byte) NativeErrorCode
	GetChallengeData(isLDL bool, buf []byte) (int, NativeErrorCode)
	StoreLicenseData(challenge []byte) NativeErrorCode
	Load() NativeErrorCode
	Update(response []byte) NativeErrorCode
	DecryptBuffer(encrypted []byte, caps []byte) NativeErrorCode
	DecryptLegacy(encrypted, subSample []byte, subSampleCount uint32, iv, keyId []byte, initWithLast15 uint32, caps []byte) NativeErrorCode
	Remove() NativeErrorCode
	Close() NativeErrorCode
	CancelChallengeData() NativeErrorCode
	CleanDecryptContext() NativeErrorCode
	DestructSession() NativeErrorCode
	GetStatus(keyId []byte) NativeKeyStatusCode
	GetCdmKeySessionId() (types.CdmKeySessionId, NativeErrorCode)
	SelectKeyId(keyId []byte) NativeErrorCode
	HasKeyId(keyId []byte) bool
	SetDrmHeader(header []byte) NativeErrorCode
	// GetLastDrmError always returns OK on the status channel; the real
	// error code is returned in errorCode. This mirrors an open question
	// in the upstream behavior: callers must inspect errorCode themselves.
	GetLastDrmError() (errorCode uint32, status NativeErrorCode)
}

// NativeSessionCallback is the set of asynchronous notifications the native
// library delivers on an unspecified thread. The Session that registers a
// callback is responsible for routing these onto the Main Thread; this
// package performs no synchronization of its own (spec §4.1).
type NativeSessionCallback interface {
	OnProcessChallenge(url string, challenge []byte)
	OnKeyUpdated(keyId []byte)
	OnAllKeysUpdated()
	OnError(message string)
}
