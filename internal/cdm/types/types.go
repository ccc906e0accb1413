// Package types defines the shared data model for the CDM subsystem:
// handles, enumerations, and the wire-neutral error taxonomy used by every
// layer from the DRM adapter up through the IPC dispatchers.
package types

import "strings"

// KeySystem is an opaque DRM key-system identifier, e.g. "com.widevine.alpha".
type KeySystem string

// Recognized key-system families. Family membership is stable per MediaKeys
// instance and selects branching behavior in Key Session and CDM Service.
const (
	KeySystemWidevine        KeySystem = "com.widevine.alpha"
	KeySystemPlayReady       KeySystem = "com.microsoft.playready"
	KeySystemNetflixPlayReady KeySystem = "com.netflix.playready"
)

// SupportedKeySystems lists the statically known key systems in the fixed
// probe order used by CDM Service's getSupportedKeySystems.
var SupportedKeySystems = []KeySystem{
	KeySystemWidevine,
	KeySystemPlayReady,
	KeySystemNetflixPlayReady,
}

// IsNetflixPlayReady reports whether ks belongs to the Netflix-PlayReady
// family, matched by substring the same way the native layer does.
func (ks KeySystem) IsNetflixPlayReady() bool {
	return strings.Contains(string(ks), "netflix")
}

// IsPlayReady reports whether ks belongs to either PlayReady family
// (Microsoft or Netflix).
func (ks KeySystem) IsPlayReady() bool {
	return strings.Contains(string(ks), "playready")
}

// MediaKeysHandle is a process-unique, monotonically increasing identifier
// for a MediaKeys instance. Assigned by the IPC layer on createMediaKeys.
// -1 is the sentinel value for "not yet assigned".
type MediaKeysHandle int32

// InvalidMediaKeysHandle is the sentinel pre-fill value for MediaKeysHandle.
const InvalidMediaKeysHandle MediaKeysHandle = -1

// KeySessionId is a process-unique, monotonically increasing identifier for
// a KeySession, valid only while its owning MediaKeys is alive.
// -1 is the sentinel value for "not yet assigned".
type KeySessionId int32

// InvalidKeySessionId is the sentinel pre-fill value for KeySessionId.
const InvalidKeySessionId KeySessionId = -1

// CdmKeySessionId is an opaque string minted by the DRM library. It is
// distinct from KeySessionId and is never used as a lookup handle.
type CdmKeySessionId string

// KeyStatus mirrors the EME key status vocabulary. A much larger native
// vocabulary collapses into these six values — see
// internal/drm.MapNativeKeyStatus, which this package cannot reference
// directly without an import cycle.
type KeyStatus int

const (
	KeyStatusUsable KeyStatus = iota
	KeyStatusExpired
	KeyStatusOutputRestricted
	KeyStatusPending
	KeyStatusInternalError
	KeyStatusReleased
)

func (s KeyStatus) String() string {
	switch s {
	case KeyStatusUsable:
		return "USABLE"
	case KeyStatusExpired:
		return "EXPIRED"
	case KeyStatusOutputRestricted:
		return "OUTPUT_RESTRICTED"
	case KeyStatusPending:
		return "PENDING"
	case KeyStatusInternalError:
		return "INTERNAL_ERROR"
	case KeyStatusReleased:
		return "RELEASED"
	default:
		return "UNKNOWN"
	}
}

// KeyStatusPair associates a raw key id with its current status.
type KeyStatusPair struct {
	KeyId  []byte
	Status KeyStatus
}

// KeyStatusVector is an ordered sequence of key-status pairs, accumulated
// per session between keyUpdated notifications and flushed on
// allKeysUpdated.
type KeyStatusVector []KeyStatusPair

// KeySessionType enumerates the EME session types. Immutable after
// construction.
type KeySessionType int

const (
	KeySessionTypeUnknown KeySessionType = iota
	KeySessionTypeTemporary
	KeySessionTypePersistentLicence
	KeySessionTypePersistentReleaseMessage
)

// InitDataType enumerates the EME initialization data formats.
type InitDataType int

const (
	InitDataTypeUnknown InitDataType = iota
	InitDataTypeCenc
	InitDataTypeKeyIds
	InitDataTypeWebm
	InitDataTypeDrmHeader
)

// LimitedDurationLicense is a ternary flag controlling the LDL bit
// surfaced to the DRM challenge call. Netflix-specific.
type LimitedDurationLicense int

const (
	LDLNotSpecified LimitedDurationLicense = iota
	LDLDisabled
	LDLEnabled
)

// MediaKeyErrorStatus is the internal, wire-neutral error taxonomy. Every
// layer above the DRM adapter sees only these values; native error codes
// never cross the adapter boundary.
type MediaKeyErrorStatus int

const (
	// StatusOK indicates success.
	StatusOK MediaKeyErrorStatus = iota
	// StatusBadSessionId indicates the id was not present in the session
	// map at the point of lookup.
	StatusBadSessionId
	// StatusNotSupported indicates the key system is not supported by the
	// native layer.
	StatusNotSupported
	// StatusInvalidState indicates the native layer refused the call based
	// on session or system state.
	StatusInvalidState
	// StatusBufferTooSmall is used only by the metric/store-hash retry
	// paths.
	StatusBufferTooSmall
	// StatusInterfaceNotImplemented is surfaced verbatim from the native
	// layer.
	StatusInterfaceNotImplemented
	// StatusFail is the catch-all for unknown native errors, unexpected
	// disconnects, and any path where the error trap fired.
	StatusFail
)

func (s MediaKeyErrorStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadSessionId:
		return "BAD_SESSION_ID"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	case StatusInvalidState:
		return "INVALID_STATE"
	case StatusBufferTooSmall:
		return "BUFFER_TOO_SMALL"
	case StatusInterfaceNotImplemented:
		return "INTERFACE_NOT_IMPLEMENTED"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Ok reports whether s is StatusOK.
func (s MediaKeyErrorStatus) Ok() bool {
	return s == StatusOK
}
