package ipc

import (
	"github.com/rialto-project/cdm-server/internal/cdm/keysession"
	"github.com/rialto-project/cdm-server/internal/cdm/service"
	"github.com/rialto-project/cdm-server/internal/cdm/types"
)

// Event is one of the three asynchronous messages the CDM Service publishes
// back to the IPC client owning a session (spec §4.5).
type Event interface {
	isEvent()
}

// LicenseRequestEvent corresponds to the first license-request challenge or,
// for Netflix-PlayReady, every subsequent renewal challenge.
type LicenseRequestEvent struct {
	MediaKeysHandle types.MediaKeysHandle
	KeySessionId    types.KeySessionId
	Url             string
	Message         []byte
}

func (LicenseRequestEvent) isEvent() {}

// LicenseRenewalEvent is published when the DRM library asks for a license
// renewal mid-session.
type LicenseRenewalEvent struct {
	MediaKeysHandle types.MediaKeysHandle
	KeySessionId    types.KeySessionId
	Message         []byte
}

func (LicenseRenewalEvent) isEvent() {}

// WireKeyStatusPair is the wire-encoded half of a types.KeyStatusPair.
type WireKeyStatusPair struct {
	KeyId  []byte
	Status WireKeyStatus
}

// KeyStatusesChangedEvent is published once per allKeysUpdated flush,
// carrying every key-status pair accumulated since the previous flush, in
// delivery order (spec §5's ordering guarantee).
type KeyStatusesChangedEvent struct {
	MediaKeysHandle types.MediaKeysHandle
	KeySessionId    types.KeySessionId
	Statuses        []WireKeyStatusPair
}

func (KeyStatusesChangedEvent) isEvent() {}

// EventPublisher delivers an Event to the IPC client that owns it. A real
// transport would serialize and write to that client's RPC channel; here it
// stands in for the "shared_from_this"-registered module service the
// transport would hold (spec §4.5's closing note on that pattern).
type EventPublisher interface {
	Publish(client service.ClientID, event Event)
}

// MediaKeysClient is the per-(mediaKeysHandle, ipcClient) event emitter
// spec §4.5 calls MediaKeysClient: one instance registered as a session's
// EventSink on createKeySession, translating KeySession callbacks into wire
// events addressed to the owning client.
type MediaKeysClient struct {
	handle    types.MediaKeysHandle
	client    service.ClientID
	publisher EventPublisher
}

// NewMediaKeysClient constructs the event emitter for one key session.
func NewMediaKeysClient(handle types.MediaKeysHandle, client service.ClientID, publisher EventPublisher) *MediaKeysClient {
	return &MediaKeysClient{handle: handle, client: client, publisher: publisher}
}

func (c *MediaKeysClient) OnLicenseRequest(keySessionId types.KeySessionId, url string, message []byte) {
	c.publisher.Publish(c.client, LicenseRequestEvent{
		MediaKeysHandle: c.handle,
		KeySessionId:    keySessionId,
		Url:             url,
		Message:         message,
	})
}

func (c *MediaKeysClient) OnLicenseRenewal(keySessionId types.KeySessionId, message []byte) {
	c.publisher.Publish(c.client, LicenseRenewalEvent{
		MediaKeysHandle: c.handle,
		KeySessionId:    keySessionId,
		Message:         message,
	})
}

func (c *MediaKeysClient) OnKeyStatusesChanged(keySessionId types.KeySessionId, statuses types.KeyStatusVector) {
	wire := make([]WireKeyStatusPair, len(statuses))
	for i, pair := range statuses {
		wire[i] = WireKeyStatusPair{KeyId: pair.KeyId, Status: ToWireKeyStatus(pair.Status)}
	}
	c.publisher.Publish(c.client, KeyStatusesChangedEvent{
		MediaKeysHandle: c.handle,
		KeySessionId:    keySessionId,
		Statuses:        wire,
	})
}

var _ keysession.EventSink = (*MediaKeysClient)(nil)
