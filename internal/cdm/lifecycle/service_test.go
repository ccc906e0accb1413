package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMainThread struct {
	stopped atomic.Bool
}

func (f *fakeMainThread) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

type fakeIPCListener struct {
	served  atomic.Bool
	stopped atomic.Bool
	serveFn func(ctx context.Context) error
}

func (f *fakeIPCListener) Serve(ctx context.Context) error {
	f.served.Store(true)
	if f.serveFn != nil {
		return f.serveFn(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeIPCListener) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

type fakeMetricsServer struct {
	started atomic.Bool
	stopped atomic.Bool
	startFn func(ctx context.Context) error
}

func (f *fakeMetricsServer) Start(ctx context.Context) error {
	f.started.Store(true)
	if f.startFn != nil {
		return f.startFn(ctx)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeMetricsServer) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

func (f *fakeMetricsServer) Port() int { return 9090 }

func TestServe_ReturnsNilOnContextCancellation(t *testing.T) {
	svc := New(0)
	mt := &fakeMainThread{}
	ipc := &fakeIPCListener{}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := svc.Serve(ctx, mt, ipc)
	require.NoError(t, err)
	assert.True(t, ipc.served.Load())
	assert.True(t, ipc.stopped.Load())
	assert.True(t, mt.stopped.Load())
}

func TestServe_PropagatesIPCFailure(t *testing.T) {
	svc := New(0)
	mt := &fakeMainThread{}
	wantErr := errors.New("listener crashed")
	ipc := &fakeIPCListener{serveFn: func(context.Context) error { return wantErr }}

	err := svc.Serve(context.Background(), mt, ipc)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.True(t, ipc.stopped.Load())
	assert.True(t, mt.stopped.Load())
}

func TestServe_StartsAndStopsMetricsServerWhenRegistered(t *testing.T) {
	svc := New(0)
	metrics := &fakeMetricsServer{}
	svc.SetMetricsServer(metrics)

	mt := &fakeMainThread{}
	ipc := &fakeIPCListener{}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := svc.Serve(ctx, mt, ipc)
	require.NoError(t, err)
	assert.True(t, metrics.started.Load())
	assert.True(t, metrics.stopped.Load())
}

func TestServe_OnlyRunsOnce(t *testing.T) {
	svc := New(0)
	mt := &fakeMainThread{}
	ipc := &fakeIPCListener{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err1 := svc.Serve(ctx, mt, ipc)
	err2 := svc.Serve(ctx, mt, ipc)
	assert.Equal(t, err1, err2)
}

func TestSetMetricsServer_PanicsAfterServe(t *testing.T) {
	svc := New(0)
	mt := &fakeMainThread{}
	ipc := &fakeIPCListener{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Serve(ctx, mt, ipc))

	assert.Panics(t, func() { svc.SetMetricsServer(&fakeMetricsServer{}) })
}
