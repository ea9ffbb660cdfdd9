package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/warden/pkg/resource"
)

type fakeAPI struct {
	stop     chan struct{}
	once     sync.Once
	failWith error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{stop: make(chan struct{})}
}

func (f *fakeAPI) ListenAndServe() error {
	if f.failWith != nil {
		return f.failWith
	}
	<-f.stop
	return nil
}

func (f *fakeAPI) Shutdown() error {
	f.once.Do(func() { close(f.stop) })
	return nil
}

type fakeRefresher struct {
	calls atomic.Int64
	err   error
}

func (f *fakeRefresher) Materialize(_ context.Context, _ string) (resource.MaterializeResult, error) {
	f.calls.Add(1)
	return resource.MaterializeResult{Total: 1, Protected: 1}, f.err
}

type fakeAccounts []resource.Account

func (f fakeAccounts) ListAccounts(context.Context) ([]resource.Account, error) {
	return f, nil
}

func TestNewDaemon_Validates(t *testing.T) {
	_, err := NewDaemon(Config{})
	assert.Error(t, err)

	_, err = NewDaemon(Config{API: newFakeAPI(), Interval: time.Minute})
	assert.Error(t, err)

	d, err := NewDaemon(Config{API: newFakeAPI()})
	require.NoError(t, err)
	assert.Nil(t, d.metricsSrv)
	assert.Equal(t, "healthy", d.Health().Status)
}

func TestDaemon_StopsOnContextCancel(t *testing.T) {
	api := newFakeAPI()
	d, err := NewDaemon(Config{API: api, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_APIFailureStopsGroup(t *testing.T) {
	api := newFakeAPI()
	api.failWith = errors.New("address already in use")
	d, err := NewDaemon(Config{API: api, Logger: zerolog.Nop()})
	require.NoError(t, err)

	err = d.Run(context.Background())
	assert.EqualError(t, err, "address already in use")
}

func TestDaemon_RefreshesEveryAccount(t *testing.T) {
	refresher := &fakeRefresher{}
	d, err := NewDaemon(Config{
		API:       newFakeAPI(),
		Interval:  10 * time.Millisecond,
		Accounts:  fakeAccounts{{Identifier: "111"}, {Identifier: "222"}},
		Refresher: refresher,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	assert.Eventually(t, func() bool { return d.RefreshCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.GreaterOrEqual(t, refresher.calls.Load(), int64(4))
}

func TestDaemon_RefreshErrorKeepsServing(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("scan failed")}
	metrics, err := newMetrics(newTestMeter(t).Meter("test"))
	require.NoError(t, err)

	d, err := NewDaemon(Config{
		API:       newFakeAPI(),
		Interval:  10 * time.Millisecond,
		Accounts:  fakeAccounts{{Identifier: "111"}},
		Refresher: refresher,
		Metrics:   metrics,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	assert.Eventually(t, func() bool { return refresher.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-errCh)
}

func TestDaemon_ServesMetrics(t *testing.T) {
	d, err := NewDaemon(Config{
		API:         newFakeAPI(),
		MetricsAddr: "127.0.0.1:0",
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NotNil(t, d.metricsSrv)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	cancel()
	assert.NoError(t, <-errCh)
}
