// Package ipc implements C5, the IPC Module + Event Client: stateless
// request/response dispatch that decodes wire-shaped requests, translates
// enums, calls into CdmService, and encodes the result back onto the wire
// (spec §4.5). Transport framing itself — protobuf encoding, the
// Unix-domain socket, service export — is out of scope (spec §1) and
// stands in here as plain Go structs and interfaces.
package ipc

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rialto-project/cdm-server/internal/cdm/service"
	"github.com/rialto-project/cdm-server/internal/cdm/types"
	"github.com/rialto-project/cdm-server/internal/logger"
	"github.com/rialto-project/cdm-server/internal/telemetry"
)

// Dispatcher is MediaKeysModuleService. It holds no per-client state of its
// own: the client → set<MediaKeysHandle> tracking that lets
// ClientDisconnected destroy exactly the handles that client created
// (spec §4.5) lives in service.Service. Every method follows the same
// shape: validate, translate, call CdmService, populate the response.
type Dispatcher struct {
	service   *service.Service
	publisher EventPublisher
	validate  *validator.Validate
}

// NewDispatcher constructs the MediaKeys module service dispatcher.
func NewDispatcher(svc *service.Service, publisher EventPublisher) *Dispatcher {
	return &Dispatcher{
		service:   svc,
		publisher: publisher,
		validate:  validator.New(),
	}
}

// ClientConnected registers client with the underlying service.
func (d *Dispatcher) ClientConnected(client service.ClientID) {
	d.service.ClientConnected(client)
}

// ClientDisconnected tears down every handle client owns.
func (d *Dispatcher) ClientDisconnected(ctx context.Context, client service.ClientID) {
	d.service.ClientDisconnected(ctx, client)
}

// correlate starts a span carrying spanAttrs and installs lc (or a fresh
// empty LogContext if nil) onto ctx with a new correlation id, so every
// subsequent logger.*Ctx call in the operation's path auto-injects the
// same identifiers the span carries — the request-scoped tracing/logging
// pairing SPEC_FULL §10/§11 describe, threaded from IPC down to the DRM
// adapter.
func correlate(ctx context.Context, operation string, spanAttrs []attribute.KeyValue, lc *logger.LogContext) (context.Context, func()) {
	if lc == nil {
		lc = &logger.LogContext{}
	}
	lc = lc.WithCorrelationID(uuid.NewString())
	ctx = logger.WithContext(ctx, lc)

	allSpanAttrs := append([]attribute.KeyValue{telemetry.CorrelationID(lc.CorrelationID)}, spanAttrs...)
	ctx, span := telemetry.StartCdmSpan(ctx, operation, allSpanAttrs...)
	logger.DebugCtx(ctx, "ipc dispatch")
	return ctx, func() { span.End() }
}

func (d *Dispatcher) CreateMediaKeys(ctx context.Context, client service.ClientID, req CreateMediaKeysRequest) (CreateMediaKeysResponse, error) {
	ctx, end := correlate(ctx, "createMediaKeys", []attribute.KeyValue{telemetry.ClientID(string(client))}, &logger.LogContext{ClientID: string(client)})
	defer end()

	if err := d.validate.Struct(req); err != nil {
		return CreateMediaKeysResponse{Status: WireStatusFail}, nil
	}

	handle, status, err := d.service.CreateMediaKeys(ctx, client, types.KeySystem(req.KeySystem))
	if err != nil {
		return CreateMediaKeysResponse{Status: WireStatusFail}, err
	}
	return CreateMediaKeysResponse{Handle: int32(handle), Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) DestroyMediaKeys(ctx context.Context, req DestroyMediaKeysRequest) (DestroyMediaKeysResponse, error) {
	ctx, end := correlate(ctx, "destroyMediaKeys", []attribute.KeyValue{telemetry.MediaKeysHandle(req.Handle)}, &logger.LogContext{MediaKeysHandle: req.Handle})
	defer end()

	status := d.service.DestroyMediaKeys(ctx, types.MediaKeysHandle(req.Handle))
	return DestroyMediaKeysResponse{Status: ToWireStatus(status)}, nil
}

// CreateKeySession creates a session and registers a fresh MediaKeysClient
// as its EventSink, addressed to client.
func (d *Dispatcher) CreateKeySession(ctx context.Context, client service.ClientID, req CreateKeySessionRequest) (CreateKeySessionResponse, error) {
	ctx, end := correlate(ctx, "createKeySession", []attribute.KeyValue{telemetry.MediaKeysHandle(req.Handle)}, &logger.LogContext{MediaKeysHandle: req.Handle})
	defer end()

	sessionType := ToInternalKeySessionType(req.SessionType)
	if sessionType == types.KeySessionTypeUnknown {
		return CreateKeySessionResponse{Status: WireStatusFail}, nil
	}

	handle := types.MediaKeysHandle(req.Handle)
	events := NewMediaKeysClient(handle, client, d.publisher)

	id, status, err := d.service.CreateKeySession(ctx, handle, sessionType, events)
	if err != nil {
		return CreateKeySessionResponse{Status: WireStatusFail}, err
	}
	return CreateKeySessionResponse{KeySessionId: int32(id), Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) GenerateRequest(ctx context.Context, req GenerateRequestRequest) (GenerateRequestResponse, error) {
	ctx, end := correlate(ctx, "generateRequest", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	initDataType := ToInternalInitDataType(req.InitDataType)
	if initDataType == types.InitDataTypeUnknown {
		return GenerateRequestResponse{Status: WireStatusFail}, nil
	}

	status, err := d.service.GenerateRequest(ctx, types.KeySessionId(req.KeySessionId), initDataType, req.InitData, ToInternalLDL(req.Ldl))
	if err != nil {
		return GenerateRequestResponse{Status: WireStatusFail}, err
	}
	return GenerateRequestResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) LoadSession(ctx context.Context, req LoadSessionRequest) (LoadSessionResponse, error) {
	ctx, end := correlate(ctx, "loadSession", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.LoadSession(ctx, types.KeySessionId(req.KeySessionId))
	if err != nil {
		return LoadSessionResponse{Status: WireStatusFail}, err
	}
	return LoadSessionResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) UpdateSession(ctx context.Context, req UpdateSessionRequest) (UpdateSessionResponse, error) {
	ctx, end := correlate(ctx, "updateSession", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.UpdateSession(ctx, types.KeySessionId(req.KeySessionId), req.Response)
	if err != nil {
		return UpdateSessionResponse{Status: WireStatusFail}, err
	}
	return UpdateSessionResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) SetDrmHeader(ctx context.Context, req SetDrmHeaderRequest) (SetDrmHeaderResponse, error) {
	ctx, end := correlate(ctx, "setDrmHeader", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.SetDrmHeader(ctx, types.KeySessionId(req.KeySessionId), req.Header)
	if err != nil {
		return SetDrmHeaderResponse{Status: WireStatusFail}, err
	}
	return SetDrmHeaderResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) SelectKeyId(ctx context.Context, req SelectKeyIdRequest) (SelectKeyIdResponse, error) {
	ctx, end := correlate(ctx, "selectKeyId", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.SelectKeyId(ctx, types.KeySessionId(req.KeySessionId), req.KeyId)
	if err != nil {
		return SelectKeyIdResponse{Status: WireStatusFail}, err
	}
	return SelectKeyIdResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) ContainsKey(ctx context.Context, req ContainsKeyRequest) (ContainsKeyResponse, error) {
	ctx, end := correlate(ctx, "containsKey", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	contains, err := d.service.ContainsKey(ctx, types.KeySessionId(req.KeySessionId), req.KeyId)
	if err != nil {
		return ContainsKeyResponse{}, err
	}
	return ContainsKeyResponse{Contains: contains}, nil
}

func (d *Dispatcher) GetCdmKeySessionId(ctx context.Context, req GetCdmKeySessionIdRequest) (GetCdmKeySessionIdResponse, error) {
	ctx, end := correlate(ctx, "getCdmKeySessionId", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	id, status, err := d.service.GetCdmKeySessionId(ctx, types.KeySessionId(req.KeySessionId))
	if err != nil {
		return GetCdmKeySessionIdResponse{Status: WireStatusFail}, err
	}
	return GetCdmKeySessionIdResponse{CdmKeySessionId: string(id), Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) GetLastDrmError(ctx context.Context, req GetLastDrmErrorRequest) (GetLastDrmErrorResponse, error) {
	ctx, end := correlate(ctx, "getLastDrmError", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	code, status, err := d.service.GetLastDrmError(ctx, types.KeySessionId(req.KeySessionId))
	if err != nil {
		return GetLastDrmErrorResponse{Status: WireStatusFail}, err
	}
	return GetLastDrmErrorResponse{ErrorCode: code, Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) CloseKeySession(ctx context.Context, req CloseKeySessionRequest) (CloseKeySessionResponse, error) {
	ctx, end := correlate(ctx, "closeKeySession", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.CloseKeySession(ctx, types.KeySessionId(req.KeySessionId))
	if err != nil {
		return CloseKeySessionResponse{Status: WireStatusFail}, err
	}
	return CloseKeySessionResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) ReleaseKeySession(ctx context.Context, req ReleaseKeySessionRequest) (ReleaseKeySessionResponse, error) {
	ctx, end := correlate(ctx, "releaseKeySession", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.ReleaseKeySession(ctx, types.KeySessionId(req.KeySessionId))
	if err != nil {
		return ReleaseKeySessionResponse{Status: WireStatusFail}, err
	}
	return ReleaseKeySessionResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) RemoveKeySession(ctx context.Context, req RemoveKeySessionRequest) (RemoveKeySessionResponse, error) {
	ctx, end := correlate(ctx, "removeKeySession", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.RemoveKeySession(ctx, types.KeySessionId(req.KeySessionId))
	if err != nil {
		return RemoveKeySessionResponse{Status: WireStatusFail}, err
	}
	return RemoveKeySessionResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) IncrementSessionIdUsageCounter(_ context.Context, req IncrementSessionIdUsageCounterRequest) {
	d.service.IncrementSessionIdUsageCounter(types.KeySessionId(req.KeySessionId))
}

func (d *Dispatcher) DecrementSessionIdUsageCounter(ctx context.Context, req DecrementSessionIdUsageCounterRequest) (DecrementSessionIdUsageCounterResponse, error) {
	ctx, end := correlate(ctx, "decrementSessionIdUsageCounter", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.DecrementSessionIdUsageCounter(ctx, types.KeySessionId(req.KeySessionId))
	if err != nil {
		return DecrementSessionIdUsageCounterResponse{Status: WireStatusFail}, err
	}
	return DecrementSessionIdUsageCounterResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) Decrypt(ctx context.Context, req DecryptRequest) (DecryptResponse, error) {
	ctx, end := correlate(ctx, "decrypt", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.Decrypt(ctx, types.KeySessionId(req.KeySessionId), req.EncryptedBuffer, req.CodecCaps)
	if err != nil {
		return DecryptResponse{Status: WireStatusFail}, err
	}
	return DecryptResponse{Status: ToWireStatus(status)}, nil
}

func (d *Dispatcher) DecryptLegacy(ctx context.Context, req DecryptLegacyRequest) (DecryptLegacyResponse, error) {
	ctx, end := correlate(ctx, "decryptLegacy", []attribute.KeyValue{telemetry.KeySessionID(req.KeySessionId)}, &logger.LogContext{KeySessionID: req.KeySessionId})
	defer end()

	status, err := d.service.DecryptLegacy(ctx, types.KeySessionId(req.KeySessionId), req.EncryptedBuffer, req.SubSample, req.SubSampleCount, req.IV, req.KeyId, req.InitWithLast15, req.CodecCaps)
	if err != nil {
		return DecryptLegacyResponse{Status: WireStatusFail}, err
	}
	return DecryptLegacyResponse{Status: ToWireStatus(status)}, nil
}

// CapabilitiesDispatcher is MediaKeysCapabilitiesModuleService: stateless,
// every method forwards straight to CdmService (spec §4.5).
type CapabilitiesDispatcher struct {
	service  *service.Service
	validate *validator.Validate
}

// NewCapabilitiesDispatcher constructs the capabilities module dispatcher.
func NewCapabilitiesDispatcher(svc *service.Service) *CapabilitiesDispatcher {
	return &CapabilitiesDispatcher{service: svc, validate: validator.New()}
}

func (d *CapabilitiesDispatcher) GetSupportedKeySystems(ctx context.Context) (GetSupportedKeySystemsResponse, error) {
	ctx, end := correlate(ctx, "getSupportedKeySystems", nil, nil)
	defer end()

	supported, status := d.service.GetSupportedKeySystems(ctx)
	if !status.Ok() {
		return GetSupportedKeySystemsResponse{}, nil
	}
	wire := make([]string, len(supported))
	for i, ks := range supported {
		wire[i] = string(ks)
	}
	return GetSupportedKeySystemsResponse{KeySystems: wire}, nil
}

func (d *CapabilitiesDispatcher) SupportsKeySystem(ctx context.Context, req SupportsKeySystemRequest) (SupportsKeySystemResponse, error) {
	ctx, end := correlate(ctx, "supportsKeySystem", []attribute.KeyValue{telemetry.KeySystem(req.KeySystem)}, &logger.LogContext{KeySystem: req.KeySystem})
	defer end()

	if err := d.validate.Struct(req); err != nil {
		return SupportsKeySystemResponse{}, nil
	}
	supported, _ := d.service.SupportsKeySystem(ctx, types.KeySystem(req.KeySystem))
	return SupportsKeySystemResponse{Supported: supported}, nil
}

func (d *CapabilitiesDispatcher) GetSupportedKeySystemVersion(ctx context.Context, req GetSupportedKeySystemVersionRequest) (GetSupportedKeySystemVersionResponse, error) {
	ctx, end := correlate(ctx, "getSupportedKeySystemVersion", []attribute.KeyValue{telemetry.KeySystem(req.KeySystem)}, &logger.LogContext{KeySystem: req.KeySystem})
	defer end()

	if err := d.validate.Struct(req); err != nil {
		return GetSupportedKeySystemVersionResponse{}, nil
	}
	version, ok, _ := d.service.GetSupportedKeySystemVersion(ctx, types.KeySystem(req.KeySystem))
	return GetSupportedKeySystemVersionResponse{Version: version, Ok: ok}, nil
}

func (d *CapabilitiesDispatcher) IsServerCertificateSupported(ctx context.Context, req IsServerCertificateSupportedRequest) (IsServerCertificateSupportedResponse, error) {
	ctx, end := correlate(ctx, "isServerCertificateSupported", []attribute.KeyValue{telemetry.KeySystem(req.KeySystem)}, &logger.LogContext{KeySystem: req.KeySystem})
	defer end()

	if err := d.validate.Struct(req); err != nil {
		return IsServerCertificateSupportedResponse{}, nil
	}
	supported, _ := d.service.IsServerCertificateSupported(ctx, types.KeySystem(req.KeySystem))
	return IsServerCertificateSupportedResponse{Supported: supported}, nil
}
