package marker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/tabcache"
	"github.com/Lej77/tst-mark-tabs/testutil"
	"github.com/Lej77/tst-mark-tabs/types"
)

func newHarness(t *testing.T, cfg Config) (*Synchronizer, *tabcache.Cache, *testutil.MockSource, *testutil.MockNotifier) {
	t.Helper()

	source := testutil.NewMockSource()
	notifier := testutil.NewMockNotifier()

	cache := tabcache.New(source, []string{DefaultMarkKey}, tabcache.WithIdleEviction(-1))
	t.Cleanup(cache.Dispose)

	sync, err := New(cache, notifier, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sync.Dispose(context.Background()) })

	return sync, cache, source, notifier
}

func enabledConfig() Config {
	return Config{Prefix: "mark-", Enabled: true}
}

func TestNew_InvalidConfig(t *testing.T) {
	cache := tabcache.New(testutil.NewMockSource(), []string{DefaultMarkKey}, tabcache.WithIdleEviction(-1))
	defer cache.Dispose()

	_, err := New(cache, testutil.NewMockNotifier(), Config{Enabled: true})
	require.Error(t, err, "enabled without a prefix is a configuration error")
	assert.True(t, pkgerrors.IsInvalid(err))

	_, err = New(cache, testutil.NewMockNotifier(), Config{Prefix: "m-", Enabled: true, Colors: []string{"red", "red"}})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestStart_PushesKnownMarks(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, enabledConfig())

	source.Seed(1, DefaultMarkKey, "red")
	source.Seed(2, DefaultMarkKey, "blue")
	source.SeedTab(3)
	require.True(t, cache.Start(context.Background()))

	require.NoError(t, sync.Start(context.Background()))
	assert.Equal(t, StateRunning, sync.State())

	assert.Equal(t, []string{"mark-red"}, notifier.Ground(1))
	assert.Equal(t, []string{"mark-blue"}, notifier.Ground(2))
	assert.Empty(t, notifier.Ground(3))
}

func TestStart_DisabledStaysStopped(t *testing.T) {
	sync, _, _, notifier := newHarness(t, Config{Prefix: "mark-", Enabled: false})

	require.NoError(t, sync.Start(context.Background()))
	assert.Equal(t, StateStopped, sync.State())
	assert.Zero(t, notifier.CallCount(), "a disabled synchronizer must not touch the sidebar")
}

func TestMarkChange_FansOutPerColor(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, enabledConfig())

	source.Seed(1, DefaultMarkKey, "red")
	require.True(t, cache.Start(context.Background()))
	require.NoError(t, sync.Start(context.Background()))

	cache.HandleFactChanged(context.Background(), types.FactChanged{
		Tab: 1, Key: DefaultMarkKey, Value: "green", Defined: true,
	})

	require.Eventually(t, func() bool {
		ground := notifier.Ground(1)
		return len(ground) == 1 && ground[0] == "mark-green"
	}, time.Second, 5*time.Millisecond, "the old color must be removed and the new one added")
}

func TestMarkChange_RemovalClearsStates(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, enabledConfig())

	source.Seed(1, DefaultMarkKey, "red")
	require.True(t, cache.Start(context.Background()))
	require.NoError(t, sync.Start(context.Background()))

	cache.HandleFactChanged(context.Background(), types.FactChanged{
		Tab: 1, Key: DefaultMarkKey, Defined: false,
	})

	require.Eventually(t, func() bool {
		return len(notifier.Ground(1)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMarkChange_UnknownColorTreatedAsUnmarked(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, enabledConfig())

	source.Seed(1, DefaultMarkKey, "red")
	require.True(t, cache.Start(context.Background()))
	require.NoError(t, sync.Start(context.Background()))

	cache.HandleFactChanged(context.Background(), types.FactChanged{
		Tab: 1, Key: DefaultMarkKey, Value: "chartreuse", Defined: true,
	})

	require.Eventually(t, func() bool {
		return len(notifier.Ground(1)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStop_ClearsSidebarStates(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, enabledConfig())

	source.Seed(1, DefaultMarkKey, "red")
	require.True(t, cache.Start(context.Background()))
	require.NoError(t, sync.Start(context.Background()))
	require.Equal(t, []string{"mark-red"}, notifier.Ground(1))

	require.NoError(t, sync.Stop(context.Background()))
	assert.Equal(t, StateStopped, sync.State())
	assert.Empty(t, notifier.Ground(1))

	// A change arriving while stopped must not reach the sidebar.
	calls := notifier.CallCount()
	cache.HandleFactChanged(context.Background(), types.FactChanged{
		Tab: 1, Key: DefaultMarkKey, Value: "blue", Defined: true,
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, notifier.CallCount())
}

func TestResetMirror_SkipsPreClear(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, enabledConfig())

	source.Seed(1, DefaultMarkKey, "red")
	require.True(t, cache.Start(context.Background()))
	require.NoError(t, sync.Start(context.Background()))

	// The sidebar restarted and forgot everything.
	notifier.SeedGround(1)
	before := notifier.CallCount()

	require.NoError(t, sync.ResetMirror(context.Background()))
	assert.Equal(t, StateRunning, sync.State())
	assert.Equal(t, []string{"mark-red"}, notifier.Ground(1))

	// Stop clears the one believed flag, the restart re-asserts it;
	// no batched pre-clear sweep over the whole palette in between.
	assert.Equal(t, before+2, notifier.CallCount())
}

func TestReconfigure_PrefixChangeRestarts(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, Config{Prefix: "a-", Enabled: true})

	source.Seed(1, DefaultMarkKey, "red")
	require.True(t, cache.Start(context.Background()))
	require.NoError(t, sync.Start(context.Background()))
	require.Equal(t, []string{"a-red"}, notifier.Ground(1))

	require.NoError(t, sync.Reconfigure(context.Background(), Config{Prefix: "b-", Enabled: true}))
	assert.Equal(t, StateRunning, sync.State())
	assert.Equal(t, []string{"b-red"}, notifier.Ground(1), "old prefix cleared, new prefix asserted")
}

func TestReconfigure_DisableStops(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, enabledConfig())

	source.Seed(1, DefaultMarkKey, "red")
	require.True(t, cache.Start(context.Background()))
	require.NoError(t, sync.Start(context.Background()))

	require.NoError(t, sync.Reconfigure(context.Background(), Config{Prefix: "mark-", Enabled: false}))
	assert.Equal(t, StateStopped, sync.State())
	assert.Empty(t, notifier.Ground(1))

	// Identical config while stopped-and-disabled stays stopped.
	require.NoError(t, sync.Reconfigure(context.Background(), Config{Prefix: "mark-", Enabled: false}))
	assert.Equal(t, StateStopped, sync.State())
}

func TestHandleTabMoved_ReassertsStates(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, enabledConfig())

	source.Seed(1, DefaultMarkKey, "red")
	require.True(t, cache.Start(context.Background()))
	require.NoError(t, sync.Start(context.Background()))

	// Moving between windows wipes the tab's sidebar state.
	notifier.SeedGround(1)

	assert.True(t, sync.HandleTabMoved(context.Background(), 1))
	assert.Equal(t, []string{"mark-red"}, notifier.Ground(1))
}

func TestHandleTabMoved_NotRunning(t *testing.T) {
	sync, _, _, _ := newHarness(t, enabledConfig())
	assert.False(t, sync.HandleTabMoved(context.Background(), 1))
}

func TestDispose_Idempotent(t *testing.T) {
	sync, cache, source, notifier := newHarness(t, enabledConfig())

	source.Seed(1, DefaultMarkKey, "red")
	require.True(t, cache.Start(context.Background()))
	require.NoError(t, sync.Start(context.Background()))

	ctx := context.Background()
	sync.Dispose(ctx)
	sync.Dispose(ctx)
	assert.Equal(t, StateStopped, sync.State())
	assert.Empty(t, notifier.Ground(1))

	calls := notifier.CallCount()
	require.NoError(t, sync.Start(ctx), "starting a disposed synchronizer is a silent no-op")
	assert.Equal(t, StateStopped, sync.State())
	assert.Equal(t, calls, notifier.CallCount())
}
