package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/services/proxy"
	"github.com/ternarybob/quaesitor/internal/store"
)

type fakeDriver struct {
	mu         sync.Mutex
	id         int
	closed     bool
	urlErr     error
	lastURL    string
	consentSel string
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastURL = url
	return nil
}

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.urlErr != nil {
		return "", d.urlErr
	}
	return d.lastURL, nil
}

func (d *fakeDriver) WaitVisible(ctx context.Context, selector string) error { return nil }

func (d *fakeDriver) Exists(ctx context.Context, selector string) (bool, error) {
	// The fake page shows a consent dialog so readiness checks resolve
	// quickly instead of scanning all rounds
	return selector == d.consentSel, nil
}

func (d *fakeDriver) IsVisible(ctx context.Context, selector string) (bool, error) {
	return true, nil
}

func (d *fakeDriver) IsEnabled(ctx context.Context, selector string) (bool, error) {
	return true, nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error                 { return nil }
func (d *fakeDriver) SetValue(ctx context.Context, selector, value string) error       { return nil }
func (d *fakeDriver) SendKeys(ctx context.Context, selector string, keys string) error { return nil }
func (d *fakeDriver) Text(ctx context.Context, selector string) (string, error)        { return "", nil }
func (d *fakeDriver) HTML(ctx context.Context, selector string) (string, error)        { return "", nil }

func (d *fakeDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) setURLErr(err error) {
	d.mu.Lock()
	d.urlErr = err
	d.mu.Unlock()
}

func (d *fakeDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeFactory struct {
	mu       sync.Mutex
	calls    []interfaces.DriverOptions
	drivers  []*fakeDriver
	failures int // fail this many leading NewDriver calls
	failErr  error
}

func (f *fakeFactory) NewDriver(ctx context.Context, opts interfaces.DriverOptions) (interfaces.PageDriver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if len(f.calls) <= f.failures {
		if f.failErr != nil {
			return nil, f.failErr
		}
		return nil, errors.New("launch failed")
	}
	d := &fakeDriver{id: len(f.drivers), consentSel: `button[aria-label="Accept all"]`}
	f.drivers = append(f.drivers, d)
	return d, nil
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFactory) driver(i int) *fakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers[i]
}

type okProber struct{}

func (okProber) Probe(ctx context.Context, proxyURL string) error { return nil }

func testConfig(t *testing.T, profiles int) *common.Config {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Browser.ProfileRoot = t.TempDir()
	cfg.Browser.Profiles = nil
	for i := 0; i < profiles; i++ {
		cfg.Browser.Profiles = append(cfg.Browser.Profiles, fmt.Sprintf("profile-%d", i))
	}
	cfg.Search.SessionPerSearch = false
	cfg.Search.ReadyTimeout = "5s"
	cfg.Search.PerSearchReadyTimeout = "5s"
	return cfg
}

func testSelector(t *testing.T, endpoints []string) (*proxy.Selector, interfaces.SharedStore) {
	t.Helper()
	pool, err := proxy.NewPool(endpoints)
	require.NoError(t, err)
	st := store.NewMemoryStore()
	settings := proxy.Settings{BindingMode: proxy.BindingIndependent, BlockCooldown: time.Minute}
	return proxy.NewSelector(pool, st, okProber{}, nil, settings, common.GetLogger()), st
}

func newTestService(t *testing.T, cfg *common.Config, factory *fakeFactory, endpoints []string) (*Service, interfaces.SharedStore) {
	t.Helper()
	sel, st := testSelector(t, endpoints)
	svc := NewService(cfg, factory, sel, nil, common.GetLogger()).(*Service)
	return svc, st
}

func TestService_WarmBuildsIdentity(t *testing.T) {
	factory := &fakeFactory{}
	svc, _ := newTestService(t, testConfig(t, 2), factory, nil)
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))

	snap := svc.Snapshot()
	assert.Equal(t, "ready", string(snap.State))
	assert.Equal(t, 0, snap.ProfileIndex)
	assert.Equal(t, -1, snap.ProxyIndex) // direct connection
	assert.Equal(t, 1, snap.RotationCount)
	assert.Equal(t, 1, factory.callCount())
	assert.False(t, snap.Busy)
}

func TestService_BeginSearchBeforeWarm(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t, 1), &fakeFactory{}, nil)

	_, err := svc.BeginSearch(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrNotReady)
}

func TestService_BeginSearchGate(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t, 1), &fakeFactory{}, nil)
	ctx := context.Background()
	require.NoError(t, svc.Warm(ctx))

	release, err := svc.BeginSearch(ctx)
	require.NoError(t, err)
	assert.True(t, svc.Snapshot().Busy)

	_, err = svc.BeginSearch(ctx)
	assert.ErrorIs(t, err, interfaces.ErrWorkerBusy)

	release()
	assert.False(t, svc.Snapshot().Busy)

	release, err = svc.BeginSearch(ctx)
	require.NoError(t, err)
	release()
}

func TestService_RotationBoundedByProfiles(t *testing.T) {
	factory := &fakeFactory{failures: 100}
	svc, _ := newTestService(t, testConfig(t, 1), factory, nil)

	err := svc.RotateIdentity(context.Background(), "test")
	assert.ErrorIs(t, err, interfaces.ErrProfilesExhausted)
	// One profile, two launch attempts each
	assert.Equal(t, 2, factory.callCount())
	assert.Equal(t, "invalid", string(svc.Snapshot().State))
}

func TestService_CorruptionWipesProfile(t *testing.T) {
	factory := &fakeFactory{failures: 100, failErr: errors.New("chrome failed to start: exited abnormally")}
	cfg := testConfig(t, 1)
	svc, _ := newTestService(t, cfg, factory, nil)

	profileDir := filepath.Join(cfg.Browser.ProfileRoot, "profile-0")
	require.NoError(t, os.MkdirAll(profileDir, 0o755))
	marker := filepath.Join(profileDir, "Preferences")
	require.NoError(t, os.WriteFile(marker, []byte("{}"), 0o644))

	err := svc.RotateIdentity(context.Background(), "test")
	assert.ErrorIs(t, err, interfaces.ErrProfilesExhausted)

	// The crash signature triggers a wipe: directory recreated empty
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
	info, statErr := os.Stat(profileDir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestService_SessionPerSearchRotatesEachSearch(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig(t, 2)
	cfg.Search.SessionPerSearch = true
	svc, _ := newTestService(t, cfg, factory, nil)
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))
	assert.Equal(t, 1, factory.callCount())

	release, err := svc.BeginSearch(ctx)
	require.NoError(t, err)
	release()
	assert.Equal(t, 2, factory.callCount())
	assert.True(t, factory.driver(0).isClosed())

	release, err = svc.BeginSearch(ctx)
	require.NoError(t, err)
	release()
	assert.Equal(t, 3, factory.callCount())
	// Profile ring wrapped back around
	assert.Equal(t, 0, svc.Snapshot().ProfileIndex)
}

func TestService_ReusesSessionWhenNotPerSearch(t *testing.T) {
	factory := &fakeFactory{}
	svc, _ := newTestService(t, testConfig(t, 2), factory, nil)
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))
	for i := 0; i < 3; i++ {
		release, err := svc.BeginSearch(ctx)
		require.NoError(t, err)
		release()
	}
	assert.Equal(t, 1, factory.callCount())
}

func TestService_LivenessProbeRebuildsSession(t *testing.T) {
	factory := &fakeFactory{}
	svc, _ := newTestService(t, testConfig(t, 2), factory, nil)
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))
	factory.driver(0).setURLErr(interfaces.ErrSessionInvalid)

	drv, err := svc.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, factory.callCount())
	assert.Same(t, factory.driver(1), drv)
	assert.Equal(t, 2, svc.Snapshot().RotationCount)
}

func TestService_RecordSearchRotatesAtLimit(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig(t, 2)
	cfg.Search.MaxSearchesPerSession = 2
	svc, _ := newTestService(t, cfg, factory, nil)
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))

	svc.RecordSearch(ctx)
	assert.Equal(t, 1, svc.Snapshot().SearchCount)
	assert.Equal(t, 1, factory.callCount())

	svc.RecordSearch(ctx)
	snap := svc.Snapshot()
	assert.Equal(t, 0, snap.SearchCount) // reset by the proactive rotation
	assert.Equal(t, 2, factory.callCount())
	assert.Equal(t, 1, snap.ProfileIndex)
}

func TestService_RequestProxyRotationImmediateWhenIdle(t *testing.T) {
	factory := &fakeFactory{}
	svc, st := newTestService(t, testConfig(t, 1), factory, []string{"a:1", "b:2", "c:3"})
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))
	assert.Equal(t, 0, svc.Snapshot().ProxyIndex)

	deferred, err := svc.RequestProxyRotation(ctx, "coordinator_rotate")
	require.NoError(t, err)
	assert.False(t, deferred)
	assert.Equal(t, 1, svc.Snapshot().ProxyIndex)

	val, err := st.Get(ctx, store.KeyProxyIndex)
	require.NoError(t, err)
	assert.Equal(t, "1", val)
}

func TestService_DeferredRotationAppliedOnNextSearch(t *testing.T) {
	factory := &fakeFactory{}
	svc, _ := newTestService(t, testConfig(t, 1), factory, []string{"a:1", "b:2", "c:3"})
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))

	release, err := svc.BeginSearch(ctx)
	require.NoError(t, err)

	deferred, err := svc.RequestProxyRotation(ctx, "coordinator_rotate")
	require.NoError(t, err)
	assert.True(t, deferred)
	assert.Equal(t, "coordinator_rotate", svc.Snapshot().PendingRotation)
	assert.Equal(t, 0, svc.Snapshot().ProxyIndex) // untouched while busy

	release()

	release, err = svc.BeginSearch(ctx)
	require.NoError(t, err)
	release()

	snap := svc.Snapshot()
	assert.Empty(t, snap.PendingRotation)
	assert.Equal(t, 1, snap.ProxyIndex)
}

func TestService_ProxyRotationAdoptsFleetAdvance(t *testing.T) {
	factory := &fakeFactory{}
	svc, st := newTestService(t, testConfig(t, 1), factory, []string{"a:1", "b:2", "c:3"})
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))

	// Another worker already advanced the shared index
	require.NoError(t, st.Set(ctx, store.KeyProxyIndex, "5"))

	require.NoError(t, svc.RotateProxyOnly(ctx, "proxy_blocked", false))

	// Adopted, not advanced: raw index stays 5, slot is 5 wrapped onto the pool
	val, err := st.Get(ctx, store.KeyProxyIndex)
	require.NoError(t, err)
	assert.Equal(t, "5", val)
	assert.Equal(t, 2, svc.Snapshot().ProxyIndex)
}

func TestService_MarkCurrentProxyBlocked(t *testing.T) {
	factory := &fakeFactory{}
	svc, st := newTestService(t, testConfig(t, 1), factory, []string{"a:1", "b:2"})
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))
	svc.MarkCurrentProxyBlocked(ctx, "blocked by target")

	blocked, err := st.Exists(ctx, store.KeyProxyBlocked(0))
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestService_MarkCurrentProxyBlockedDirectMode(t *testing.T) {
	factory := &fakeFactory{}
	svc, _ := newTestService(t, testConfig(t, 1), factory, nil)
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))
	// No pool configured; must not panic or write anything
	svc.MarkCurrentProxyBlocked(ctx, "blocked by target")
	assert.Equal(t, -1, svc.Snapshot().ProxyIndex)
}

func TestService_CloseShutsDriver(t *testing.T) {
	factory := &fakeFactory{}
	svc, _ := newTestService(t, testConfig(t, 1), factory, nil)
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx))
	require.NoError(t, svc.Close(ctx))
	assert.True(t, factory.driver(0).isClosed())
	assert.Equal(t, "empty", string(svc.Snapshot().State))
}

func TestService_RefreshSessionRebuildsIdentity(t *testing.T) {
	factory := &fakeFactory{}
	svc, _ := newTestService(t, testConfig(t, 2), factory, nil)
	ctx := context.Background()
	require.NoError(t, svc.Warm(ctx))

	require.NoError(t, svc.RefreshSession(ctx, "manual"))

	snap := svc.Snapshot()
	assert.Equal(t, "ready", string(snap.State))
	assert.Equal(t, 2, snap.RotationCount)
	assert.True(t, factory.driver(0).isClosed())
}

func TestService_RefreshSessionBusyDuringSearch(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t, 1), &fakeFactory{}, nil)
	ctx := context.Background()
	require.NoError(t, svc.Warm(ctx))

	release, err := svc.BeginSearch(ctx)
	require.NoError(t, err)

	err = svc.RefreshSession(ctx, "manual")
	assert.ErrorIs(t, err, interfaces.ErrWorkerBusy)

	release()
	assert.NoError(t, svc.RefreshSession(ctx, "manual"))
}

func TestService_RefreshSessionRecoversFailedWarmup(t *testing.T) {
	// Warmup retries three times, two launches per profile; six failures
	// exhaust it and the refresh gets the first working launch
	factory := &fakeFactory{failures: 6}
	svc, _ := newTestService(t, testConfig(t, 1), factory, nil)
	ctx := context.Background()

	require.Error(t, svc.Warm(ctx))
	_, err := svc.BeginSearch(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNotReady)

	require.NoError(t, svc.RefreshSession(ctx, "manual"))

	release, err := svc.BeginSearch(ctx)
	require.NoError(t, err)
	release()
}
