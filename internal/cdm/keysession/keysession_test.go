package keysession

import (
	"context"
	"testing"

	"github.com/rialto-project/cdm-server/internal/cdm/mainthread"
	"github.com/rialto-project/cdm-server/internal/cdm/types"
)

// newMT builds a running MainThread for tests that exercise the enqueued
// native callbacks (OnProcessChallenge, OnKeyUpdated, OnAllKeysUpdated).
func newMT(t *testing.T) *mainthread.MainThread {
	t.Helper()
	mt := mainthread.New(mainthread.Config{})
	t.Cleanup(func() { mt.Stop(context.Background()) })
	return mt
}

// flush blocks until every task enqueued on mt so far has run.
func flush(t *testing.T, mt *mainthread.MainThread) {
	t.Helper()
	if err := mt.EnqueueAndWait(context.Background(), func() {}); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

type fakeSession struct {
	constructStatus types.MediaKeyErrorStatus
	challengeData   []byte
	challengeStatus types.MediaKeyErrorStatus
	statusByKey     map[string]types.KeyStatus
	calls           []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		constructStatus: types.StatusOK,
		challengeStatus: types.StatusOK,
		statusByKey:     map[string]types.KeyStatus{},
	}
}

func (f *fakeSession) ConstructSession(types.KeySessionType, types.InitDataType, []byte) types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "constructSession")
	return f.constructStatus
}
func (f *fakeSession) GetChallengeData(bool) ([]byte, types.MediaKeyErrorStatus) {
	f.calls = append(f.calls, "getChallengeData")
	return f.challengeData, f.challengeStatus
}
func (f *fakeSession) StoreLicenseData([]byte) types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "storeLicenseData")
	return types.StatusOK
}
func (f *fakeSession) Load() types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) Update([]byte) types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "update")
	return types.StatusOK
}
func (f *fakeSession) DecryptBuffer([]byte, []byte) types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) DecryptLegacy([]byte, []byte, uint32, []byte, []byte, uint32, []byte) types.MediaKeyErrorStatus {
	return types.StatusOK
}
func (f *fakeSession) Remove() types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) Close() types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "close")
	return types.StatusOK
}
func (f *fakeSession) CancelChallengeData() types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "cancelChallengeData")
	return types.StatusOK
}
func (f *fakeSession) CleanDecryptContext() types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "cleanDecryptContext")
	return types.StatusOK
}
func (f *fakeSession) DestructSession() types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "destructSession")
	return types.StatusOK
}
func (f *fakeSession) GetStatus(keyId []byte) types.KeyStatus {
	return f.statusByKey[string(keyId)]
}
func (f *fakeSession) GetCdmKeySessionId() (types.CdmKeySessionId, types.MediaKeyErrorStatus) {
	return "cdm-1", types.StatusOK
}
func (f *fakeSession) SelectKeyId(keyId []byte) types.MediaKeyErrorStatus {
	f.calls = append(f.calls, "selectKeyId")
	return types.StatusOK
}
func (f *fakeSession) HasKeyId([]byte) bool { return true }
func (f *fakeSession) SetDrmHeader([]byte) types.MediaKeyErrorStatus { return types.StatusOK }
func (f *fakeSession) GetLastDrmError() (uint32, types.MediaKeyErrorStatus) {
	return 0, types.StatusOK
}

type fakeEventSink struct {
	licenseRequests []licenseRequestCall
	renewals        [][]byte
	statusChanges   []types.KeyStatusVector
}

type licenseRequestCall struct {
	id      types.KeySessionId
	url     string
	message []byte
}

func (f *fakeEventSink) OnLicenseRequest(id types.KeySessionId, url string, message []byte) {
	f.licenseRequests = append(f.licenseRequests, licenseRequestCall{id, url, message})
}
func (f *fakeEventSink) OnLicenseRenewal(_ types.KeySessionId, message []byte) {
	f.renewals = append(f.renewals, message)
}
func (f *fakeEventSink) OnKeyStatusesChanged(_ types.KeySessionId, statuses types.KeyStatusVector) {
	f.statusChanges = append(f.statusChanges, statuses)
}

func TestGenerateRequest_FirstCall_ConstructsAndSetsFlag(t *testing.T) {
	native := newFakeSession()
	events := &fakeEventSink{}
	ks := New(types.KeySystemWidevine, 0, types.KeySessionTypeTemporary, false, events, native, newMT(t))

	status := ks.GenerateRequest(types.InitDataTypeCenc, []byte{0x01, 0x02, 0x03}, types.LDLNotSpecified)
	if !status.Ok() {
		t.Fatalf("status = %v, want OK", status)
	}
	if !ks.isSessionConstructed {
		t.Fatal("isSessionConstructed = false, want true")
	}
	if !ks.licenseRequested {
		t.Fatal("licenseRequested = false, want true for a non-Netflix first call")
	}
}

func TestGenerateRequest_NonNetflixSecondCall_IsNoOpOK(t *testing.T) {
	native := newFakeSession()
	ks := New(types.KeySystemWidevine, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, native, newMT(t))
	ks.GenerateRequest(types.InitDataTypeCenc, []byte{0x01}, types.LDLNotSpecified)

	status := ks.GenerateRequest(types.InitDataTypeCenc, []byte{0x01}, types.LDLNotSpecified)
	if status != types.StatusOK {
		t.Errorf("second generateRequest status = %v, want OK (the later code path's behavior)", status)
	}
}

func TestGenerateRequest_Netflix_NeverSetsLicenseRequested(t *testing.T) {
	native := newFakeSession()
	ks := New(types.KeySystemNetflixPlayReady, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, native, newMT(t))
	ks.GenerateRequest(types.InitDataTypeCenc, []byte{0x01}, types.LDLNotSpecified)
	if ks.licenseRequested {
		t.Fatal("licenseRequested = true, want false for Netflix-PlayReady")
	}
}

func TestGenerateRequest_NetflixSecondCall_FetchesChallengeAndEmits(t *testing.T) {
	native := newFakeSession()
	native.challengeData = []byte{0x64, 0x65, 0x66}
	events := &fakeEventSink{}
	ks := New(types.KeySystemNetflixPlayReady, 0, types.KeySessionTypeTemporary, false, events, native, newMT(t))

	ks.GenerateRequest(types.InitDataTypeCenc, []byte{0x01}, types.LDLNotSpecified)
	status := ks.GenerateRequest(types.InitDataTypeCenc, []byte{0x01}, types.LDLNotSpecified)

	if !status.Ok() {
		t.Fatalf("status = %v, want OK", status)
	}
	if len(events.licenseRequests) != 1 {
		t.Fatalf("len(licenseRequests) = %d, want 1", len(events.licenseRequests))
	}
	if string(events.licenseRequests[0].message) != string([]byte{0x64, 0x65, 0x66}) {
		t.Errorf("message = %v, want %v", events.licenseRequests[0].message, native.challengeData)
	}
}

func TestUpdateSession_DispatchesOnKeySystemFamily(t *testing.T) {
	widevine := newFakeSession()
	ksWidevine := New(types.KeySystemWidevine, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, widevine, newMT(t))
	ksWidevine.UpdateSession([]byte{0x09})
	if !containsCall(widevine.calls, "update") || containsCall(widevine.calls, "storeLicenseData") {
		t.Errorf("widevine calls = %v, want update only", widevine.calls)
	}

	netflix := newFakeSession()
	ksNetflix := New(types.KeySystemNetflixPlayReady, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, netflix, newMT(t))
	ksNetflix.UpdateSession([]byte{0x09})
	if !containsCall(netflix.calls, "storeLicenseData") || containsCall(netflix.calls, "update") {
		t.Errorf("netflix calls = %v, want storeLicenseData only", netflix.calls)
	}
}

func TestSelectKeyId_Deduplicates(t *testing.T) {
	native := newFakeSession()
	ks := New(types.KeySystemWidevine, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, native, newMT(t))

	keyId := []byte{0xaa, 0xbb}
	ks.SelectKeyId(keyId)
	ks.SelectKeyId(keyId)

	count := 0
	for _, c := range native.calls {
		if c == "selectKeyId" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("selectKeyId native calls = %d, want 1", count)
	}
}

func TestCloseKeySession_NonNetflix_CloseThenDestruct(t *testing.T) {
	native := newFakeSession()
	ks := New(types.KeySystemWidevine, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, native, newMT(t))
	ks.GenerateRequest(types.InitDataTypeCenc, []byte{0x01}, types.LDLNotSpecified)

	status := ks.CloseKeySession()
	if !status.Ok() {
		t.Fatalf("status = %v, want OK", status)
	}
	want := []string{"constructSession", "close", "destructSession"}
	if !callsEqual(native.calls, want) {
		t.Errorf("calls = %v, want %v", native.calls, want)
	}
}

func TestCloseKeySession_Netflix_CancelThenCleanThenDestruct(t *testing.T) {
	native := newFakeSession()
	ks := New(types.KeySystemNetflixPlayReady, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, native, newMT(t))
	ks.GenerateRequest(types.InitDataTypeCenc, []byte{0x01}, types.LDLNotSpecified)

	status := ks.CloseKeySession()
	if !status.Ok() {
		t.Fatalf("status = %v, want OK", status)
	}
	want := []string{"constructSession", "cancelChallengeData", "cleanDecryptContext", "destructSession"}
	if !callsEqual(native.calls, want) {
		t.Errorf("calls = %v, want %v", native.calls, want)
	}
}

func TestCloseKeySession_Unconstructed_NoOp(t *testing.T) {
	native := newFakeSession()
	ks := New(types.KeySystemWidevine, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, native, newMT(t))

	status := ks.CloseKeySession()
	if !status.Ok() {
		t.Fatalf("status = %v, want OK", status)
	}
	if len(native.calls) != 0 {
		t.Errorf("calls = %v, want none", native.calls)
	}
}

func TestKeyStatusAggregation_OrderPreserved(t *testing.T) {
	native := newFakeSession()
	native.statusByKey[string([]byte{0x11})] = types.KeyStatusUsable
	native.statusByKey[string([]byte{0x22})] = types.KeyStatusExpired
	events := &fakeEventSink{}
	mt := newMT(t)
	ks := New(types.KeySystemWidevine, 0, types.KeySessionTypeTemporary, false, events, native, mt)

	ks.OnKeyUpdated([]byte{0x11})
	ks.OnKeyUpdated([]byte{0x22})
	ks.OnAllKeysUpdated()
	flush(t, mt)

	if len(events.statusChanges) != 1 {
		t.Fatalf("len(statusChanges) = %d, want 1", len(events.statusChanges))
	}
	vec := events.statusChanges[0]
	if len(vec) != 2 || vec[0].Status != types.KeyStatusUsable || vec[1].Status != types.KeyStatusExpired {
		t.Errorf("vec = %+v, want [(0x11 Usable) (0x22 Expired)]", vec)
	}
	if len(ks.keyStatuses) != 0 {
		t.Error("keyStatuses not cleared after allKeysUpdated")
	}
}

func TestErrorTrap_RewritesSuccessToFail(t *testing.T) {
	native := newFakeSession()
	ks := New(types.KeySystemWidevine, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, native, newMT(t))

	end := ks.beginOcdmOp()
	ks.OnError("native reported an async failure")
	status := end(types.StatusOK)

	if status != types.StatusFail {
		t.Errorf("status = %v, want Fail (error trap should override a successful return)", status)
	}
}

func TestErrorTrap_OnErrorOutsideOperation_Ignored(t *testing.T) {
	native := newFakeSession()
	ks := New(types.KeySystemWidevine, 0, types.KeySessionTypeTemporary, false, &fakeEventSink{}, native, newMT(t))

	ks.OnError("stray callback with no ongoing operation")
	end := ks.beginOcdmOp()
	status := end(types.StatusOK)

	if status != types.StatusOK {
		t.Errorf("status = %v, want OK", status)
	}
}

func containsCall(calls []string, name string) bool {
	for _, c := range calls {
		if c == name {
			return true
		}
	}
	return false
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
