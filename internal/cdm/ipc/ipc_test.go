package ipc

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/rialto-project/cdm-server/internal/cdm/mainthread"
	"github.com/rialto-project/cdm-server/internal/cdm/service"
	"github.com/rialto-project/cdm-server/internal/cdm/types"
	"github.com/rialto-project/cdm-server/internal/drm"
)

// TestMain confirms every MainThread this package's dispatcher tests start
// is stopped cleanly — no stray worker goroutine survives the test binary.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// seamFactory/nativeSystemAdapter mirror service_test.go's own fixtures —
// Dispatcher wraps a real *service.Service, which talks to drm.NewSystem
// directly, so a drm.NativeSystemHandle-shaped fake is what's needed here
// too.
type seamFactory struct{}

func (seamFactory) CreateSystem(types.KeySystem) (drm.NativeSystemHandle, error) {
	return &nativeSystemAdapter{}, nil
}

type nativeSystemAdapter struct{}

func (*nativeSystemAdapter) GetVersion() (string, drm.NativeErrorCode) { return "1.2.3", drm.NativeErrorNone }
func (*nativeSystemAdapter) GetLdlSessionsLimit() (uint32, drm.NativeErrorCode) {
	return 1, drm.NativeErrorNone
}
func (*nativeSystemAdapter) DeleteKeyStore() drm.NativeErrorCode    { return drm.NativeErrorNone }
func (*nativeSystemAdapter) DeleteSecureStore() drm.NativeErrorCode { return drm.NativeErrorNone }
func (*nativeSystemAdapter) GetKeyStoreHash(buf []byte) (int, drm.NativeErrorCode) {
	return len(buf), drm.NativeErrorNone
}
func (*nativeSystemAdapter) GetSecureStoreHash(buf []byte) (int, drm.NativeErrorCode) {
	return len(buf), drm.NativeErrorNone
}
func (*nativeSystemAdapter) GetDrmTime() (uint64, drm.NativeErrorCode) { return 1, drm.NativeErrorNone }
func (*nativeSystemAdapter) CreateSession(cb drm.NativeSessionCallback) (drm.NativeSessionHandle, drm.NativeErrorCode) {
	return &nativeSessionAdapter{cb: cb}, drm.NativeErrorNone
}
func (*nativeSystemAdapter) SupportsServerCertificate() bool { return true }
func (*nativeSystemAdapter) GetMetricSystemData(buf []byte) (int, drm.NativeErrorCode) {
	return 0, drm.NativeErrorNone
}
func (*nativeSystemAdapter) Destroy() {}

type nativeSessionAdapter struct{ cb drm.NativeSessionCallback }

func (s *nativeSessionAdapter) ConstructSession(types.KeySessionType, types.InitDataType, []byte) drm.NativeErrorCode {
	if s.cb != nil {
		s.cb.OnProcessChallenge("", []byte{0x01})
	}
	return drm.NativeErrorNone
}
func (*nativeSessionAdapter) GetChallengeData(bool, []byte) (int, drm.NativeErrorCode) {
	return 0, drm.NativeErrorNone
}
func (*nativeSessionAdapter) StoreLicenseData([]byte) drm.NativeErrorCode { return drm.NativeErrorNone }
func (*nativeSessionAdapter) Load() drm.NativeErrorCode                   { return drm.NativeErrorNone }
func (*nativeSessionAdapter) Update([]byte) drm.NativeErrorCode           { return drm.NativeErrorNone }
func (*nativeSessionAdapter) DecryptBuffer([]byte, []byte) drm.NativeErrorCode {
	return drm.NativeErrorNone
}
func (*nativeSessionAdapter) DecryptLegacy([]byte, []byte, uint32, []byte, []byte, uint32, []byte) drm.NativeErrorCode {
	return drm.NativeErrorNone
}
func (*nativeSessionAdapter) Remove() drm.NativeErrorCode              { return drm.NativeErrorNone }
func (*nativeSessionAdapter) Close() drm.NativeErrorCode                { return drm.NativeErrorNone }
func (*nativeSessionAdapter) CancelChallengeData() drm.NativeErrorCode  { return drm.NativeErrorNone }
func (*nativeSessionAdapter) CleanDecryptContext() drm.NativeErrorCode  { return drm.NativeErrorNone }
func (*nativeSessionAdapter) DestructSession() drm.NativeErrorCode      { return drm.NativeErrorNone }
func (*nativeSessionAdapter) GetStatus([]byte) drm.NativeKeyStatusCode { return drm.NativeKeyStatusUsable }
func (*nativeSessionAdapter) GetCdmKeySessionId() (types.CdmKeySessionId, drm.NativeErrorCode) {
	return "cdm-1", drm.NativeErrorNone
}
func (*nativeSessionAdapter) SelectKeyId([]byte) drm.NativeErrorCode  { return drm.NativeErrorNone }
func (*nativeSessionAdapter) HasKeyId([]byte) bool                    { return true }
func (*nativeSessionAdapter) SetDrmHeader([]byte) drm.NativeErrorCode { return drm.NativeErrorNone }
func (*nativeSessionAdapter) GetLastDrmError() (uint32, drm.NativeErrorCode) {
	return 0, drm.NativeErrorNone
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ service.ClientID, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingPublisher) {
	t.Helper()
	mt := mainthread.New(mainthread.Config{})
	t.Cleanup(func() { mt.Stop(context.Background()) })

	svc := service.New(mt, seamFactory{})
	svc.SwitchToActive()

	pub := &recordingPublisher{}
	return NewDispatcher(svc, pub), pub
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateMediaKeys_RejectsEmptyKeySystem(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp, err := d.CreateMediaKeys(ctxT(t), "client-a", CreateMediaKeysRequest{})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if resp.Status != WireStatusFail {
		t.Errorf("status = %v, want Fail for an empty key system", resp.Status)
	}
}

func TestCreateMediaKeys_ThenCreateKeySession_RoundTrips(t *testing.T) {
	d, _ := newTestDispatcher(t)
	client := service.ClientID("client-a")

	mkResp, err := d.CreateMediaKeys(ctxT(t), client, CreateMediaKeysRequest{KeySystem: "com.widevine.alpha"})
	if err != nil || mkResp.Status != WireStatusOK {
		t.Fatalf("create media keys: status=%v err=%v", mkResp.Status, err)
	}

	ksResp, err := d.CreateKeySession(ctxT(t), client, CreateKeySessionRequest{
		Handle:      mkResp.Handle,
		SessionType: WireKeySessionTypeTemporary,
	})
	if err != nil || ksResp.Status != WireStatusOK {
		t.Fatalf("create key session: status=%v err=%v", ksResp.Status, err)
	}
	if ksResp.KeySessionId != 0 {
		t.Errorf("KeySessionId = %d, want 0 for the first session", ksResp.KeySessionId)
	}
}

func TestCreateKeySession_UnknownWireType_RejectedAtBoundary(t *testing.T) {
	d, _ := newTestDispatcher(t)
	client := service.ClientID("client-a")

	mkResp, _ := d.CreateMediaKeys(ctxT(t), client, CreateMediaKeysRequest{KeySystem: "com.widevine.alpha"})

	resp, err := d.CreateKeySession(ctxT(t), client, CreateKeySessionRequest{
		Handle:      mkResp.Handle,
		SessionType: WireKeySessionType("garbage"),
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if resp.Status != WireStatusFail {
		t.Errorf("status = %v, want Fail for an unrecognized wire session type", resp.Status)
	}
}

func TestGenerateRequest_EmitsLicenseRequestEventToPublisher(t *testing.T) {
	d, pub := newTestDispatcher(t)
	client := service.ClientID("client-a")

	mkResp, _ := d.CreateMediaKeys(ctxT(t), client, CreateMediaKeysRequest{KeySystem: "com.widevine.alpha"})
	ksResp, _ := d.CreateKeySession(ctxT(t), client, CreateKeySessionRequest{
		Handle:      mkResp.Handle,
		SessionType: WireKeySessionTypeTemporary,
	})

	genResp, err := d.GenerateRequest(ctxT(t), GenerateRequestRequest{
		KeySessionId: ksResp.KeySessionId,
		InitDataType: WireInitDataTypeCenc,
		InitData:     []byte{0x01, 0x02},
		Ldl:          WireLDLNotSpecified,
	})
	if err != nil || genResp.Status != WireStatusOK {
		t.Fatalf("generateRequest: status=%v err=%v", genResp.Status, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pub.count() == 0 {
		t.Fatal("no event published after generateRequest")
	}
	pub.mu.Lock()
	first := pub.events[0]
	pub.mu.Unlock()
	ev, ok := first.(LicenseRequestEvent)
	if !ok {
		t.Fatalf("first event = %T, want LicenseRequestEvent", first)
	}
	if ev.KeySessionId != ksResp.KeySessionId {
		t.Errorf("event KeySessionId = %d, want %d", ev.KeySessionId, ksResp.KeySessionId)
	}
}

func TestClientDisconnected_DestroysOwnedHandles(t *testing.T) {
	d, _ := newTestDispatcher(t)
	client := service.ClientID("client-a")
	d.ClientConnected(client)

	mkResp, _ := d.CreateMediaKeys(ctxT(t), client, CreateMediaKeysRequest{KeySystem: "com.widevine.alpha"})
	d.ClientDisconnected(ctxT(t), client)

	resp, err := d.DestroyMediaKeys(ctxT(t), DestroyMediaKeysRequest{Handle: mkResp.Handle})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if resp.Status != WireStatusBadSessionId {
		t.Errorf("status = %v, want BadSessionId for an already-destroyed handle", resp.Status)
	}
}

func TestCapabilities_GetSupportedKeySystems_PreservesOrder(t *testing.T) {
	mt := mainthread.New(mainthread.Config{})
	defer mt.Stop(context.Background())
	svc := service.New(mt, seamFactory{})
	svc.SwitchToActive()

	cd := NewCapabilitiesDispatcher(svc)
	resp, err := cd.GetSupportedKeySystems(ctxT(t))
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	want := []string{"com.widevine.alpha", "com.microsoft.playready", "com.netflix.playready"}
	if len(resp.KeySystems) != len(want) {
		t.Fatalf("KeySystems = %v, want %v", resp.KeySystems, want)
	}
	for i, ks := range want {
		if resp.KeySystems[i] != ks {
			t.Errorf("KeySystems[%d] = %q, want %q", i, resp.KeySystems[i], ks)
		}
	}
}

func TestCapabilities_SupportsKeySystem_RejectsEmptyRequest(t *testing.T) {
	mt := mainthread.New(mainthread.Config{})
	defer mt.Stop(context.Background())
	svc := service.New(mt, seamFactory{})
	svc.SwitchToActive()

	cd := NewCapabilitiesDispatcher(svc)
	resp, err := cd.SupportsKeySystem(ctxT(t), SupportsKeySystemRequest{})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if resp.Supported {
		t.Error("Supported = true, want false for a rejected empty-key-system request")
	}
}
