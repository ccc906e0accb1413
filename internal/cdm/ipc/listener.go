package ipc

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/rialto-project/cdm-server/internal/bytesize"
	"github.com/rialto-project/cdm-server/internal/cdm/service"
	"github.com/rialto-project/cdm-server/internal/logger"
)

// defaultMaxFrameSize bounds a single IPC frame when a Listener is
// constructed with no explicit limit.
const defaultMaxFrameSize = 4 * bytesize.MiB

// envelope is the length-prefixed JSON frame this package exchanges with a
// connected client. A request names Method and carries its request struct
// (zero value for methods with no request) as Payload; a response carries
// the matching response struct, or Err on failure. Async events are framed
// with Method "event".
//
// This is a concrete stand-in for the protobuf-over-Unix-domain transport
// spec §1 marks out of scope ("IPC transport framing, service export,
// socket lifecycle... are out of scope"); it exists so the lifecycle
// Service has a real IPCListener to start and stop, not because this
// repository claims wire compatibility with the upstream transport.
type envelope struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Err     string          `json:"error,omitempty"`
}

// Listener is the Unix-domain socket transport fronting a Dispatcher and
// CapabilitiesDispatcher. It implements EventPublisher by writing async
// event frames down the connection owned by the addressed client, and
// implements lifecycle.IPCListener via Serve/Stop.
type Listener struct {
	socketPath   string
	maxFrameSize bytesize.ByteSize
	dispatcher   *Dispatcher
	caps         *CapabilitiesDispatcher

	mu      sync.Mutex
	ln      net.Listener
	clients map[service.ClientID]*clientConn
}

type clientConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// NewListener constructs a Listener bound to socketPath, rejecting any
// single IPC frame larger than maxFrameSize (defaultMaxFrameSize if zero).
// Bind must be called with the package's two dispatchers before Serve; it
// is split out from construction because the Dispatcher itself needs this
// Listener as its EventPublisher.
func NewListener(socketPath string, maxFrameSize bytesize.ByteSize) *Listener {
	if maxFrameSize == 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	return &Listener{
		socketPath:   socketPath,
		maxFrameSize: maxFrameSize,
		clients:      make(map[service.ClientID]*clientConn),
	}
}

// Bind attaches the dispatchers this Listener routes requests to. Must be
// called exactly once, before Serve.
func (l *Listener) Bind(dispatcher *Dispatcher, caps *CapabilitiesDispatcher) {
	l.dispatcher = dispatcher
	l.caps = caps
}

// Publish implements EventPublisher: it looks up client's connection and
// writes event as an "event"-framed message. A client with no open
// connection (already disconnected) is silently dropped, mirroring a real
// transport's best-effort event delivery.
func (l *Listener) Publish(client service.ClientID, event Event) {
	l.mu.Lock()
	cc, ok := l.clients[client]
	l.mu.Unlock()
	if !ok {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal ipc event", "error", err)
		return
	}
	if err := writeFrame(cc, envelope{Method: "event", Payload: payload}); err != nil {
		logger.Warn("failed to deliver ipc event", "client", string(client), "error", err)
	}
}

// Serve listens on the configured Unix-domain socket and dispatches
// requests until ctx is canceled or the listener fails.
func (l *Listener) Serve(ctx context.Context) error {
	_ = os.Remove(l.socketPath)
	ln, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return fmt.Errorf("ipc listener: %w", err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stopped:
		}
	}()
	defer close(stopped)

	logger.Info("ipc listener started", "socket", l.socketPath)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ipc listener accept: %w", err)
			}
		}
		go l.handleConn(ctx, conn)
	}
}

// Stop closes the listening socket, unblocking Serve's Accept loop.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil {
		return fmt.Errorf("ipc listener stop: %w", err)
	}
	_ = os.Remove(l.socketPath)
	return nil
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	client := service.ClientID(uuid.NewString())
	cc := &clientConn{conn: conn}

	l.mu.Lock()
	l.clients[client] = cc
	l.mu.Unlock()
	l.dispatcher.ClientConnected(client)

	logger.Info("ipc client connected", "client", string(client))

	defer func() {
		l.mu.Lock()
		delete(l.clients, client)
		l.mu.Unlock()
		l.dispatcher.ClientDisconnected(ctx, client)
		_ = conn.Close()
		logger.Info("ipc client disconnected", "client", string(client))
	}()

	reader := bufio.NewReader(conn)
	for {
		req, err := readFrame(reader, l.maxFrameSize)
		if err != nil {
			if err != io.EOF {
				logger.Warn("ipc frame read error", "client", string(client), "error", err)
			}
			return
		}

		resp := l.dispatch(ctx, client, req)
		if err := writeFrame(cc, resp); err != nil {
			logger.Warn("ipc frame write error", "client", string(client), "error", err)
			return
		}
	}
}

// dispatch decodes req.Payload into the method's request struct, calls the
// matching Dispatcher/CapabilitiesDispatcher method, and frames the
// response. Unknown methods and decode failures return an error envelope
// rather than closing the connection.
func (l *Listener) dispatch(ctx context.Context, client service.ClientID, req envelope) envelope {
	switch req.Method {
	case "createMediaKeys":
		return call(req, func(r CreateMediaKeysRequest) (CreateMediaKeysResponse, error) {
			return l.dispatcher.CreateMediaKeys(ctx, client, r)
		})
	case "destroyMediaKeys":
		return call(req, func(r DestroyMediaKeysRequest) (DestroyMediaKeysResponse, error) {
			return l.dispatcher.DestroyMediaKeys(ctx, r)
		})
	case "createKeySession":
		return call(req, func(r CreateKeySessionRequest) (CreateKeySessionResponse, error) {
			return l.dispatcher.CreateKeySession(ctx, client, r)
		})
	case "generateRequest":
		return call(req, func(r GenerateRequestRequest) (GenerateRequestResponse, error) {
			return l.dispatcher.GenerateRequest(ctx, r)
		})
	case "loadSession":
		return call(req, func(r LoadSessionRequest) (LoadSessionResponse, error) {
			return l.dispatcher.LoadSession(ctx, r)
		})
	case "updateSession":
		return call(req, func(r UpdateSessionRequest) (UpdateSessionResponse, error) {
			return l.dispatcher.UpdateSession(ctx, r)
		})
	case "setDrmHeader":
		return call(req, func(r SetDrmHeaderRequest) (SetDrmHeaderResponse, error) {
			return l.dispatcher.SetDrmHeader(ctx, r)
		})
	case "selectKeyId":
		return call(req, func(r SelectKeyIdRequest) (SelectKeyIdResponse, error) {
			return l.dispatcher.SelectKeyId(ctx, r)
		})
	case "containsKey":
		return call(req, func(r ContainsKeyRequest) (ContainsKeyResponse, error) {
			return l.dispatcher.ContainsKey(ctx, r)
		})
	case "getCdmKeySessionId":
		return call(req, func(r GetCdmKeySessionIdRequest) (GetCdmKeySessionIdResponse, error) {
			return l.dispatcher.GetCdmKeySessionId(ctx, r)
		})
	case "getLastDrmError":
		return call(req, func(r GetLastDrmErrorRequest) (GetLastDrmErrorResponse, error) {
			return l.dispatcher.GetLastDrmError(ctx, r)
		})
	case "closeKeySession":
		return call(req, func(r CloseKeySessionRequest) (CloseKeySessionResponse, error) {
			return l.dispatcher.CloseKeySession(ctx, r)
		})
	case "releaseKeySession":
		return call(req, func(r ReleaseKeySessionRequest) (ReleaseKeySessionResponse, error) {
			return l.dispatcher.ReleaseKeySession(ctx, r)
		})
	case "removeKeySession":
		return call(req, func(r RemoveKeySessionRequest) (RemoveKeySessionResponse, error) {
			return l.dispatcher.RemoveKeySession(ctx, r)
		})
	case "incrementSessionIdUsageCounter":
		var r IncrementSessionIdUsageCounterRequest
		if err := json.Unmarshal(req.Payload, &r); err != nil {
			return envelope{Method: req.Method, Err: err.Error()}
		}
		l.dispatcher.IncrementSessionIdUsageCounter(ctx, r)
		return envelope{Method: req.Method}
	case "decrementSessionIdUsageCounter":
		return call(req, func(r DecrementSessionIdUsageCounterRequest) (DecrementSessionIdUsageCounterResponse, error) {
			return l.dispatcher.DecrementSessionIdUsageCounter(ctx, r)
		})
	case "decrypt":
		return call(req, func(r DecryptRequest) (DecryptResponse, error) {
			return l.dispatcher.Decrypt(ctx, r)
		})
	case "decryptLegacy":
		return call(req, func(r DecryptLegacyRequest) (DecryptLegacyResponse, error) {
			return l.dispatcher.DecryptLegacy(ctx, r)
		})
	case "getSupportedKeySystems":
		resp, err := l.caps.GetSupportedKeySystems(ctx)
		return encode(req.Method, resp, err)
	case "supportsKeySystem":
		return call(req, func(r SupportsKeySystemRequest) (SupportsKeySystemResponse, error) {
			return l.caps.SupportsKeySystem(ctx, r)
		})
	case "getSupportedKeySystemVersion":
		return call(req, func(r GetSupportedKeySystemVersionRequest) (GetSupportedKeySystemVersionResponse, error) {
			return l.caps.GetSupportedKeySystemVersion(ctx, r)
		})
	case "isServerCertificateSupported":
		return call(req, func(r IsServerCertificateSupportedRequest) (IsServerCertificateSupportedResponse, error) {
			return l.caps.IsServerCertificateSupported(ctx, r)
		})
	default:
		return envelope{Method: req.Method, Err: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// call decodes req.Payload into Req, invokes fn, and frames the result.
func call[Req any, Resp any](req envelope, fn func(Req) (Resp, error)) envelope {
	var r Req
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &r); err != nil {
			return envelope{Method: req.Method, Err: err.Error()}
		}
	}
	resp, err := fn(r)
	return encode(req.Method, resp, err)
}

func encode(method string, resp any, err error) envelope {
	if err != nil {
		return envelope{Method: method, Err: err.Error()}
	}
	payload, mErr := json.Marshal(resp)
	if mErr != nil {
		return envelope{Method: method, Err: mErr.Error()}
	}
	return envelope{Method: method, Payload: payload}
}

// readFrame and writeFrame implement a simple 4-byte big-endian
// length-prefixed JSON frame.

func readFrame(r *bufio.Reader, maxFrameSize bytesize.ByteSize) (envelope, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return envelope{}, err
	}
	if bytesize.ByteSize(length) > maxFrameSize {
		return envelope{}, fmt.Errorf("ipc: frame of %d bytes exceeds max frame size %s", length, maxFrameSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func writeFrame(cc *clientConn, env envelope) error {
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}

	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()

	if err := binary.Write(cc.conn, binary.BigEndian, uint32(len(buf))); err != nil {
		return err
	}
	_, err = cc.conn.Write(buf)
	return err
}
