package ipc

// Request/response structs stand in for the protobuf messages a real
// transport would decode and encode; this package owns only the dispatch
// semantics spec §4.5 describes, not wire framing (spec §1, out of scope).

type CreateMediaKeysRequest struct {
	KeySystem string `validate:"required"`
}

type CreateMediaKeysResponse struct {
	Handle int32
	Status WireMediaKeyErrorStatus
}

type DestroyMediaKeysRequest struct {
	Handle int32
}

type DestroyMediaKeysResponse struct {
	Status WireMediaKeyErrorStatus
}

type CreateKeySessionRequest struct {
	Handle      int32
	SessionType WireKeySessionType `validate:"required"`
}

type CreateKeySessionResponse struct {
	KeySessionId int32
	Status       WireMediaKeyErrorStatus
}

type GenerateRequestRequest struct {
	KeySessionId int32
	InitDataType WireInitDataType `validate:"required"`
	InitData     []byte
	Ldl          WireLimitedDurationLicense
}

type GenerateRequestResponse struct {
	Status WireMediaKeyErrorStatus
}

type LoadSessionRequest struct {
	KeySessionId int32
}

type LoadSessionResponse struct {
	Status WireMediaKeyErrorStatus
}

type UpdateSessionRequest struct {
	KeySessionId int32
	Response     []byte
}

type UpdateSessionResponse struct {
	Status WireMediaKeyErrorStatus
}

type SetDrmHeaderRequest struct {
	KeySessionId int32
	Header       []byte
}

type SetDrmHeaderResponse struct {
	Status WireMediaKeyErrorStatus
}

type SelectKeyIdRequest struct {
	KeySessionId int32
	KeyId        []byte
}

type SelectKeyIdResponse struct {
	Status WireMediaKeyErrorStatus
}

type ContainsKeyRequest struct {
	KeySessionId int32
	KeyId        []byte
}

type ContainsKeyResponse struct {
	Contains bool
}

type GetCdmKeySessionIdRequest struct {
	KeySessionId int32
}

type GetCdmKeySessionIdResponse struct {
	CdmKeySessionId string
	Status          WireMediaKeyErrorStatus
}

type GetLastDrmErrorRequest struct {
	KeySessionId int32
}

type GetLastDrmErrorResponse struct {
	ErrorCode uint32
	Status    WireMediaKeyErrorStatus
}

type CloseKeySessionRequest struct {
	KeySessionId int32
}

type CloseKeySessionResponse struct {
	Status WireMediaKeyErrorStatus
}

type ReleaseKeySessionRequest struct {
	KeySessionId int32
}

type ReleaseKeySessionResponse struct {
	Status WireMediaKeyErrorStatus
}

type RemoveKeySessionRequest struct {
	KeySessionId int32
}

type RemoveKeySessionResponse struct {
	Status WireMediaKeyErrorStatus
}

type IncrementSessionIdUsageCounterRequest struct {
	KeySessionId int32
}

type DecrementSessionIdUsageCounterRequest struct {
	KeySessionId int32
}

type DecrementSessionIdUsageCounterResponse struct {
	Status WireMediaKeyErrorStatus
}

type DecryptRequest struct {
	KeySessionId    int32
	EncryptedBuffer []byte
	CodecCaps       []byte
}

type DecryptResponse struct {
	Status WireMediaKeyErrorStatus
}

type DecryptLegacyRequest struct {
	KeySessionId    int32
	EncryptedBuffer []byte
	SubSample       []byte
	SubSampleCount  uint32
	IV              []byte
	KeyId           []byte
	InitWithLast15  uint32
	CodecCaps       []byte
}

type DecryptLegacyResponse struct {
	Status WireMediaKeyErrorStatus
}

// MediaKeysCapabilitiesModuleService request/response pairs (spec §4.5);
// these carry no session state, only a key system string.

type GetSupportedKeySystemsResponse struct {
	KeySystems []string
}

type SupportsKeySystemRequest struct {
	KeySystem string `validate:"required"`
}

type SupportsKeySystemResponse struct {
	Supported bool
}

type GetSupportedKeySystemVersionRequest struct {
	KeySystem string `validate:"required"`
}

type GetSupportedKeySystemVersionResponse struct {
	Version string
	Ok      bool
}

type IsServerCertificateSupportedRequest struct {
	KeySystem string `validate:"required"`
}

type IsServerCertificateSupportedResponse struct {
	Supported bool
}
