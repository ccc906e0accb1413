package mediakeys

import (
	"context"
	"testing"
	"time"

	"github.com/rialto-project/cdm-server/internal/cdm/mainthread"
	"github.com/rialto-project/cdm-server/internal/cdm/types"
	"github.com/rialto-project/cdm-server/internal/drm"
)

// fakeSession/fakeSystem/fakeFactory mirror internal/drm's own fakes,
// kept local here so this package's tests never import drm's test file.

type fakeSession struct {
	client drm.SessionClient
	calls  []string
}

func (f *fakeSession) ConstructSession(types.KeySessionType, types.InitDataType, []byte) types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "constructSession")
	return types.StatusOK
}
func (f *fakeSession) GetChallengeData(bool) ([]byte, types.MediaKeyErrorStatus) {
	return []byte{0x64, 0x65, 0x66}, types.StatusOK
}
func (f *fakeSession) StoreLicenseData([]byte) types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) Load() types.MediaKeyErrorStatus                  { return types.StatusOK }
func (f *fakeSession) Update([]byte) types.MediaKeyErrorStatus          { return types.StatusOK }
func (f *fakeSession) DecryptBuffer([]byte, []byte) types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) DecryptLegacy([]byte, []byte, uint32, []byte, []byte, uint32, []byte) types.MediaKeyErrorStatus {
	return types.StatusOK
}
func (f *fakeSession) Remove() types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) Close() types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "close")
	return types.StatusOK
}
func (f *fakeSession) CancelChallengeData() types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) CleanDecryptContext() types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) DestructSession() types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "destructSession")
	return types.StatusOK
}
func (f *fakeSession) GetStatus([]byte) types.KeyStatus { return types.KeyStatusUsable }
func (f *fakeSession) GetCdmKeySessionId() (types.CdmKeySessionId, types.MediaKeyErrorStatus) {
	return "cdm-1", types.StatusOK
}
func (f *fakeSession) SelectKeyId([]byte) types.MediaKeyErrorStatus  { return types.StatusOK }
func (f *fakeSession) HasKeyId([]byte) bool                          { return true }
func (f *fakeSession) SetDrmHeader([]byte) types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) GetLastDrmError() (uint32, types.MediaKeyErrorStatus) {
	return 0, types.StatusOK
}

type fakeSystem struct {
	sessions    []*fakeSession
	metricSizes []int
	metricFinal int
	destroyed   bool
}

func (f *fakeSystem) GetVersion() (string, types.MediaKeyErrorStatus) { return "1.0", types.StatusOK }
func (f *fakeSystem) GetLdlSessionsLimit() (uint32, types.MediaKeyErrorStatus) {
	return 3, types.StatusOK
}
func (f *fakeSystem) DeleteKeyStore() types.MediaKeyErrorStatus    { return types.StatusOK }
func (f *fakeSystem) DeleteSecureStore() types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSystem) GetKeyStoreHash() ([]byte, types.MediaKeyErrorStatus) {
	return make([]byte, 256), types.StatusOK
}
func (f *fakeSystem) GetSecureStoreHash() ([]byte, types.MediaKeyErrorStatus) {
	return make([]byte, 256), types.StatusOK
}
func (f *fakeSystem) GetDrmTime() (uint64, types.MediaKeyErrorStatus) { return 123, types.StatusOK }
func (f *fakeSystem) SupportsServerCertificate() bool                { return true }
func (f *fakeSystem) KeySystem() types.KeySystem                     { return "" }
func (f *fakeSystem) Destroy()                                       { f.destroyed = true }
func (f *fakeSystem) CreateSession(client drm.SessionClient) (drm.SessionAPI, types.MediaKeyErrorStatus) {
	s := &fakeSession{client: client}
	f.sessions = append(f.sessions, s)
	return s, types.StatusOK
}
func (f *fakeSystem) GetMetricSystemData(size int) ([]byte, types.MediaKeyErrorStatus) {
	f.metricSizes = append(f.metricSizes, size)
	if size < f.metricFinal {
		return nil, types.StatusBufferTooSmall
	}
	return make([]byte, size), types.StatusOK
}

// newTestMediaKeys builds a MediaKeys directly around a pre-built fake
// SystemAPI, bypassing New/drm.SystemFactory — New's own construction path
// is exercised separately in drm's tests.
func newTestMediaKeys(t *testing.T, sys *fakeSystem) (*MediaKeys, *mainthread.MainThread) {
	t.Helper()
	mt := mainthread.New(mainthread.Config{})
	t.Cleanup(func() { mt.Stop(context.Background()) })

	mk := &MediaKeys{
		keySystem:  types.KeySystemWidevine,
		mainThread: mt,
		system:     sys,
		sessions:   make(map[types.KeySessionId]*sessionUsage),
	}
	return mk, mt
}

type fakeEvents struct{}

func (fakeEvents) OnLicenseRequest(types.KeySessionId, string, []byte)      {}
func (fakeEvents) OnLicenseRenewal(types.KeySessionId, []byte)              {}
func (fakeEvents) OnKeyStatusesChanged(types.KeySessionId, types.KeyStatusVector) {}

func ctxT() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func TestCreateKeySession_AssignsSequentialIds(t *testing.T) {
	sys := &fakeSystem{}
	mk, _ := newTestMediaKeys(t, sys)
	ctx, cancel := ctxT()
	defer cancel()

	id1, status, err := mk.CreateKeySession(ctx, types.KeySessionTypeTemporary, fakeEvents{})
	if err != nil || !status.Ok() {
		t.Fatalf("create 1: status=%v err=%v", status, err)
	}
	id2, status, err := mk.CreateKeySession(ctx, types.KeySessionTypeTemporary, fakeEvents{})
	if err != nil || !status.Ok() {
		t.Fatalf("create 2: status=%v err=%v", status, err)
	}
	if id1 == id2 {
		t.Errorf("id1 == id2 == %v, want distinct ids", id1)
	}
	if mk.SessionCount() != 2 {
		t.Errorf("SessionCount() = %d, want 2", mk.SessionCount())
	}
}

func TestCloseKeySession_Deferred_WhenPinned(t *testing.T) {
	sys := &fakeSystem{}
	mk, _ := newTestMediaKeys(t, sys)
	ctx, cancel := ctxT()
	defer cancel()

	id, _, _ := mk.CreateKeySession(ctx, types.KeySessionTypeTemporary, fakeEvents{})
	mk.IncrementSessionIdUsageCounter(id)

	status, err := mk.CloseKeySession(ctx, id)
	if err != nil || !status.Ok() {
		t.Fatalf("close: status=%v err=%v", status, err)
	}
	if mk.SessionCount() != 1 {
		t.Fatal("session erased immediately despite a pinning reference")
	}

	if err := mk.DecrementSessionIdUsageCounter(ctx, id); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if mk.SessionCount() != 0 {
		t.Error("session not erased after deferred close resolved on decrement")
	}
}

func TestCloseKeySession_Immediate_WhenUnpinned(t *testing.T) {
	sys := &fakeSystem{}
	mk, _ := newTestMediaKeys(t, sys)
	ctx, cancel := ctxT()
	defer cancel()

	id, _, _ := mk.CreateKeySession(ctx, types.KeySessionTypeTemporary, fakeEvents{})
	status, err := mk.CloseKeySession(ctx, id)
	if err != nil || !status.Ok() {
		t.Fatalf("close: status=%v err=%v", status, err)
	}
	if mk.SessionCount() != 0 {
		t.Error("session not erased immediately when unpinned")
	}
}

func TestDestroy_ClosesOutstandingSessionsBeforeSystemDestroy(t *testing.T) {
	sys := &fakeSystem{}
	mk, _ := newTestMediaKeys(t, sys)
	ctx, cancel := ctxT()
	defer cancel()

	id, _, _ := mk.CreateKeySession(ctx, types.KeySessionTypeTemporary, fakeEvents{})
	if status, err := mk.GenerateRequest(ctx, id, types.InitDataTypeCenc, []byte{0x01}, types.LDLNotSpecified); err != nil || !status.Ok() {
		t.Fatalf("generateRequest: status=%v err=%v", status, err)
	}

	if err := mk.Destroy(ctx); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if !sys.destroyed {
		t.Error("system.Destroy() not called")
	}
	if mk.SessionCount() != 0 {
		t.Error("sessions map not cleared after Destroy")
	}
	if len(sys.sessions) != 1 {
		t.Fatalf("len(sys.sessions) = %d, want 1", len(sys.sessions))
	}
	want := []string{"constructSession", "close", "destructSession"}
	if got := sys.sessions[0].calls; !callsEqual(got, want) {
		t.Errorf("calls = %v, want %v — Destroy must run the close state machine on every constructed session", got, want)
	}
}

func TestDecrementSessionIdUsageCounter_UnknownId_NoOp(t *testing.T) {
	sys := &fakeSystem{}
	mk, _ := newTestMediaKeys(t, sys)
	ctx, cancel := ctxT()
	defer cancel()

	if err := mk.DecrementSessionIdUsageCounter(ctx, 999); err != nil {
		t.Fatalf("decrement unknown id: %v", err)
	}
}

func TestGetMetricSystemData_DoublesOnBufferTooSmall(t *testing.T) {
	sys := &fakeSystem{metricFinal: 4096}
	mk, _ := newTestMediaKeys(t, sys)
	ctx, cancel := ctxT()
	defer cancel()

	data, status, err := mk.GetMetricSystemData(ctx)
	if err != nil || !status.Ok() {
		t.Fatalf("status=%v err=%v", status, err)
	}
	if len(data) != 4096 {
		t.Errorf("len(data) = %d, want 4096", len(data))
	}
	want := []int{1024, 2048, 4096}
	if len(sys.metricSizes) != len(want) {
		t.Fatalf("metricSizes = %v, want %v", sys.metricSizes, want)
	}
	for i, s := range want {
		if sys.metricSizes[i] != s {
			t.Errorf("metricSizes[%d] = %d, want %d", i, sys.metricSizes[i], s)
		}
	}
}

func TestGetMetricSystemData_GivesUpAfterMaxRetries(t *testing.T) {
	sys := &fakeSystem{metricFinal: 1 << 30}
	mk, _ := newTestMediaKeys(t, sys)
	ctx, cancel := ctxT()
	defer cancel()

	_, status, err := mk.GetMetricSystemData(ctx)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if status != types.StatusFail {
		t.Errorf("status = %v, want Fail", status)
	}
	if len(sys.metricSizes) != metricDataMaxRetries {
		t.Errorf("attempts = %d, want %d", len(sys.metricSizes), metricDataMaxRetries)
	}
}

func callsEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
