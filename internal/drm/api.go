package drm

import "github.com/rialto-project/cdm-server/internal/cdm/types"

// SystemAPI is the surface Key Session's owner (MediaKeys, C3) depends on.
// *System implements it; tests substitute a fake that skips the native
// layer entirely.
type SystemAPI interface {
	KeySystem() types.KeySystem
	Destroy()
	GetVersion() (string, types.MediaKeyErrorStatus)
	GetLdlSessionsLimit() (uint32, types.MediaKeyErrorStatus)
	DeleteKeyStore() types.MediaKeyErrorStatus
	DeleteSecureStore() types.MediaKeyErrorStatus
	GetKeyStoreHash() ([]byte, types.MediaKeyErrorStatus)
	GetSecureStoreHash() ([]byte, types.MediaKeyErrorStatus)
	GetDrmTime() (uint64, types.MediaKeyErrorStatus)
	SupportsServerCertificate() bool
	CreateSession(client SessionClient) (SessionAPI, types.MediaKeyErrorStatus)
	GetMetricSystemData(size int) ([]byte, types.MediaKeyErrorStatus)
}

// SessionAPI is the surface Key Session (C2) depends on.
// *Session implements it.
type SessionAPI interface {
	ConstructSession(sessionType types.KeySessionType, initDataType types.InitDataType, initData []byte) types.MediaKeyErrorStatus
	GetChallengeData(isLDL bool) ([]byte, types.MediaKeyErrorStatus)
	StoreLicenseData(challenge []byte) types.MediaKeyErrorStatus
	Load() types.MediaKeyErrorStatus
	Update(response []byte) types.MediaKeyErrorStatus
	DecryptBuffer(encrypted, caps []byte) types.MediaKeyErrorStatus
	DecryptLegacy(encrypted, subSample []byte, subSampleCount uint32, iv, keyId []byte, initWithLast15 uint32, caps []byte) types.MediaKeyErrorStatus
	Remove() types.MediaKeyErrorStatus
	Close() types.MediaKeyErrorStatus
	CancelChallengeData() types.MediaKeyErrorStatus
	CleanDecryptContext() types.MediaKeyErrorStatus
	DestructSession() types.MediaKeyErrorStatus
	GetStatus(keyId []byte) types.KeyStatus
	GetCdmKeySessionId() (types.CdmKeySessionId, types.MediaKeyErrorStatus)
	SelectKeyId(keyId []byte) types.MediaKeyErrorStatus
	HasKeyId(keyId []byte) bool
	SetDrmHeader(header []byte) types.MediaKeyErrorStatus
	GetLastDrmError() (errorCode uint32, status types.MediaKeyErrorStatus)
}

var (
	_ SystemAPI  = (*System)(nil)
	_ SessionAPI = (*Session)(nil)
)
