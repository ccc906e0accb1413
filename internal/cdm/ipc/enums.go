package ipc

import "github.com/rialto-project/cdm-server/internal/cdm/types"

// Wire enumerations stand in for the protobuf enums a real transport would
// carry; transport framing itself is out of scope (spec §1). Every mapping
// here is total in both directions: decoding an unrecognized wire value
// never errors. Unrecognized session types and init-data types decode to
// the internal UNKNOWN sentinel, which the dispatcher then rejects before
// the request reaches CdmService (spec §6); an unrecognized LDL decodes to
// NotSpecified, a key status to InternalError, and a status to Fail.

// WireKeySessionType mirrors the EME session-type wire enum.
type WireKeySessionType string

const (
	WireKeySessionTypeUnknown              WireKeySessionType = "KEY_SESSION_TYPE_UNKNOWN"
	WireKeySessionTypeTemporary             WireKeySessionType = "KEY_SESSION_TYPE_TEMPORARY"
	WireKeySessionTypePersistentLicence     WireKeySessionType = "KEY_SESSION_TYPE_PERSISTENT_LICENSE"
	WireKeySessionTypePersistentReleaseMsg  WireKeySessionType = "KEY_SESSION_TYPE_PERSISTENT_RELEASE_MESSAGE"
)

// ToInternalKeySessionType decodes a wire session type, falling back to the
// UNKNOWN sentinel for any unrecognized value.
func ToInternalKeySessionType(w WireKeySessionType) types.KeySessionType {
	switch w {
	case WireKeySessionTypeTemporary:
		return types.KeySessionTypeTemporary
	case WireKeySessionTypePersistentLicence:
		return types.KeySessionTypePersistentLicence
	case WireKeySessionTypePersistentReleaseMsg:
		return types.KeySessionTypePersistentReleaseMessage
	default:
		return types.KeySessionTypeUnknown
	}
}

// ToWireKeySessionType encodes an internal session type onto the wire.
func ToWireKeySessionType(t types.KeySessionType) WireKeySessionType {
	switch t {
	case types.KeySessionTypeTemporary:
		return WireKeySessionTypeTemporary
	case types.KeySessionTypePersistentLicence:
		return WireKeySessionTypePersistentLicence
	case types.KeySessionTypePersistentReleaseMessage:
		return WireKeySessionTypePersistentReleaseMsg
	default:
		return WireKeySessionTypeUnknown
	}
}

// WireInitDataType mirrors the EME init-data-format wire enum.
type WireInitDataType string

const (
	WireInitDataTypeUnknown   WireInitDataType = "INIT_DATA_TYPE_UNKNOWN"
	WireInitDataTypeCenc      WireInitDataType = "INIT_DATA_TYPE_CENC"
	WireInitDataTypeKeyIds    WireInitDataType = "INIT_DATA_TYPE_KEYIDS"
	WireInitDataTypeWebm      WireInitDataType = "INIT_DATA_TYPE_WEBM"
	WireInitDataTypeDrmHeader WireInitDataType = "INIT_DATA_TYPE_DRM_HEADER"
)

// ToInternalInitDataType decodes a wire init-data type, falling back to
// UNKNOWN for any unrecognized value.
func ToInternalInitDataType(w WireInitDataType) types.InitDataType {
	switch w {
	case WireInitDataTypeCenc:
		return types.InitDataTypeCenc
	case WireInitDataTypeKeyIds:
		return types.InitDataTypeKeyIds
	case WireInitDataTypeWebm:
		return types.InitDataTypeWebm
	case WireInitDataTypeDrmHeader:
		return types.InitDataTypeDrmHeader
	default:
		return types.InitDataTypeUnknown
	}
}

// ToWireInitDataType encodes an internal init-data type onto the wire.
func ToWireInitDataType(t types.InitDataType) WireInitDataType {
	switch t {
	case types.InitDataTypeCenc:
		return WireInitDataTypeCenc
	case types.InitDataTypeKeyIds:
		return WireInitDataTypeKeyIds
	case types.InitDataTypeWebm:
		return WireInitDataTypeWebm
	case types.InitDataTypeDrmHeader:
		return WireInitDataTypeDrmHeader
	default:
		return WireInitDataTypeUnknown
	}
}

// WireLimitedDurationLicense mirrors the LDL ternary wire enum.
type WireLimitedDurationLicense string

const (
	WireLDLNotSpecified WireLimitedDurationLicense = "LDL_NOT_SPECIFIED"
	WireLDLDisabled     WireLimitedDurationLicense = "LDL_DISABLED"
	WireLDLEnabled      WireLimitedDurationLicense = "LDL_ENABLED"
)

// ToInternalLDL decodes a wire LDL flag, falling back to NotSpecified for
// any unrecognized value.
func ToInternalLDL(w WireLimitedDurationLicense) types.LimitedDurationLicense {
	switch w {
	case WireLDLDisabled:
		return types.LDLDisabled
	case WireLDLEnabled:
		return types.LDLEnabled
	default:
		return types.LDLNotSpecified
	}
}

// ToWireLDL encodes an internal LDL flag onto the wire.
func ToWireLDL(l types.LimitedDurationLicense) WireLimitedDurationLicense {
	switch l {
	case types.LDLDisabled:
		return WireLDLDisabled
	case types.LDLEnabled:
		return WireLDLEnabled
	default:
		return WireLDLNotSpecified
	}
}

// WireKeyStatus mirrors the EME key-status wire enum.
type WireKeyStatus string

const (
	WireKeyStatusUnknown          WireKeyStatus = "KEY_STATUS_UNKNOWN"
	WireKeyStatusUsable           WireKeyStatus = "KEY_STATUS_USABLE"
	WireKeyStatusExpired          WireKeyStatus = "KEY_STATUS_EXPIRED"
	WireKeyStatusOutputRestricted WireKeyStatus = "KEY_STATUS_OUTPUT_RESTRICTED"
	WireKeyStatusPending          WireKeyStatus = "KEY_STATUS_PENDING"
	WireKeyStatusInternalError    WireKeyStatus = "KEY_STATUS_INTERNAL_ERROR"
	WireKeyStatusReleased         WireKeyStatus = "KEY_STATUS_RELEASED"
)

// ToWireKeyStatus encodes an internal key status onto the wire.
func ToWireKeyStatus(s types.KeyStatus) WireKeyStatus {
	switch s {
	case types.KeyStatusUsable:
		return WireKeyStatusUsable
	case types.KeyStatusExpired:
		return WireKeyStatusExpired
	case types.KeyStatusOutputRestricted:
		return WireKeyStatusOutputRestricted
	case types.KeyStatusPending:
		return WireKeyStatusPending
	case types.KeyStatusInternalError:
		return WireKeyStatusInternalError
	case types.KeyStatusReleased:
		return WireKeyStatusReleased
	default:
		return WireKeyStatusUnknown
	}
}

// ToInternalKeyStatus decodes a wire key status, falling back to
// InternalError for any unrecognized value — there is no internal UNKNOWN
// member for KeyStatus, and an unrecognized status from a real transport
// is itself an error condition.
func ToInternalKeyStatus(w WireKeyStatus) types.KeyStatus {
	switch w {
	case WireKeyStatusUsable:
		return types.KeyStatusUsable
	case WireKeyStatusExpired:
		return types.KeyStatusExpired
	case WireKeyStatusOutputRestricted:
		return types.KeyStatusOutputRestricted
	case WireKeyStatusPending:
		return types.KeyStatusPending
	case WireKeyStatusReleased:
		return types.KeyStatusReleased
	default:
		return types.KeyStatusInternalError
	}
}

// WireMediaKeyErrorStatus mirrors spec §6's ProtoMediaKeyErrorStatus.
type WireMediaKeyErrorStatus string

const (
	WireStatusOK                     WireMediaKeyErrorStatus = "OK"
	WireStatusBadSessionId           WireMediaKeyErrorStatus = "BAD_SESSION_ID"
	WireStatusNotSupported           WireMediaKeyErrorStatus = "NOT_SUPPORTED"
	WireStatusInvalidState           WireMediaKeyErrorStatus = "INVALID_STATE"
	WireStatusFail                   WireMediaKeyErrorStatus = "FAIL"
	WireStatusBufferTooSmall         WireMediaKeyErrorStatus = "BUFFER_TOO_SMALL"
	WireStatusInterfaceNotImplemented WireMediaKeyErrorStatus = "INTERFACE_NOT_IMPLEMENTED"
)

// ToWireStatus encodes an internal error status onto the wire.
func ToWireStatus(s types.MediaKeyErrorStatus) WireMediaKeyErrorStatus {
	switch s {
	case types.StatusOK:
		return WireStatusOK
	case types.StatusBadSessionId:
		return WireStatusBadSessionId
	case types.StatusNotSupported:
		return WireStatusNotSupported
	case types.StatusInvalidState:
		return WireStatusInvalidState
	case types.StatusBufferTooSmall:
		return WireStatusBufferTooSmall
	case types.StatusInterfaceNotImplemented:
		return WireStatusInterfaceNotImplemented
	default:
		return WireStatusFail
	}
}

// ToInternalStatus decodes a wire error status. No request ever legitimately
// carries one (statuses are server-originated), but the mapping is kept
// total for symmetry with every other enum in this file.
func ToInternalStatus(w WireMediaKeyErrorStatus) types.MediaKeyErrorStatus {
	switch w {
	case WireStatusOK:
		return types.StatusOK
	case WireStatusBadSessionId:
		return types.StatusBadSessionId
	case WireStatusNotSupported:
		return types.StatusNotSupported
	case WireStatusInvalidState:
		return types.StatusInvalidState
	case WireStatusBufferTooSmall:
		return types.StatusBufferTooSmall
	case WireStatusInterfaceNotImplemented:
		return types.StatusInterfaceNotImplemented
	default:
		return types.StatusFail
	}
}
