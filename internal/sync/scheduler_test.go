package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-sync-client/internal/store"
)

func TestSchedulerArmRespectsAutoSyncFlag(t *testing.T) {
	fake := &fakeRemote{}
	orch, st := newTestOrchestrator(t, fake)
	sched := NewScheduler(st, orch)
	defer sched.Stop()

	// Seeded settings have auto-sync disabled, so nothing is scheduled.
	require.NoError(t, sched.Start(context.Background()))
	assert.Empty(t, sched.cron.Entries())
}

func TestSchedulerArmSchedulesWhenEnabled(t *testing.T) {
	fake := &fakeRemote{}
	st := newTestStore(t, func() store.SyncSettings {
		s := configuredSettings()
		s.AutoSyncEnabled = true
		s.SyncIntervalMinutes = 5
		return s
	}())
	orch := NewOrchestrator(st, func(*store.SyncSettings) RemoteAPI { return fake })
	sched := NewScheduler(st, orch)
	defer sched.Stop()

	require.NoError(t, sched.Start(context.Background()))
	assert.Len(t, sched.cron.Entries(), 1)
}

func TestSchedulerReloadRearms(t *testing.T) {
	fake := &fakeRemote{}
	orch, st := newTestOrchestrator(t, fake)
	sched := NewScheduler(st, orch)
	defer sched.Stop()

	ctx := context.Background()
	require.NoError(t, sched.Start(ctx))
	require.Empty(t, sched.cron.Entries())

	enabled := true
	_, err := st.UpdateSettings(ctx, store.SettingsChanges{AutoSyncEnabled: &enabled})
	require.NoError(t, err)

	require.NoError(t, sched.Reload(ctx))
	assert.Len(t, sched.cron.Entries(), 1)

	// Disabling again clears the old entry instead of stacking a new one.
	disabled := false
	_, err = st.UpdateSettings(ctx, store.SettingsChanges{AutoSyncEnabled: &disabled})
	require.NoError(t, err)

	require.NoError(t, sched.Reload(ctx))
	assert.Empty(t, sched.cron.Entries())
}

func TestSchedulerTriggerSkipsWhileSyncing(t *testing.T) {
	fake := &fakeRemote{}
	orch, st := newTestOrchestrator(t, fake)
	sched := NewScheduler(st, orch)

	require.True(t, orch.begin())
	defer orch.end()

	sched.triggerSync()

	assert.Empty(t, fake.calls, "tick must not reach the remote while a run is in flight")
	history, err := st.ListHistory(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSchedulerStartupSync(t *testing.T) {
	fake := &fakeRemote{}
	st := newTestStore(t, func() store.SyncSettings {
		s := configuredSettings()
		s.SyncOnStartup = true
		return s
	}())
	orch := NewOrchestrator(st, func(*store.SyncSettings) RemoteAPI { return fake })
	sched := NewScheduler(st, orch)
	defer sched.Stop()

	require.NoError(t, sched.Start(context.Background()))

	require.Eventually(t, func() bool {
		history, err := st.ListHistory(context.Background(), 10, 0)
		return err == nil && len(history) == 1
	}, 2*time.Second, 10*time.Millisecond, "startup sync should write one history row")
}
