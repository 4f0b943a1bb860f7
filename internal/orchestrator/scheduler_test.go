package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFinished(t *testing.T, events <-chan Event) Operation {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if ev.Type == EventFinished {
				return ev.Operation
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for an operation to finish")
		}
	}
}

func TestScheduler_ThreeTicksThreeOperations(t *testing.T) {
	cfg := testSyncConfig()
	cfg.AutoSyncInterval = time.Hour
	env := newTestEnv(t, cfg)

	events, unsubscribe := env.m.Subscribe(64)
	defer unsubscribe()

	s := NewScheduler(env.m)
	s.Start(t.Context())
	defer s.Stop()

	var ops []Operation
	for i := 0; i < 3; i++ {
		env.snap.set(fmt.Sprintf("revision %d", i))
		env.clock.Advance(time.Hour)
		ops = append(ops, waitFinished(t, events))
	}

	for _, op := range ops {
		assert.Equal(t, KindDBOnly, op.Kind)
		assert.Equal(t, TriggerAuto, op.Trigger)
		assert.Equal(t, StatusSucceeded, op.Status)
	}
	assert.Len(t, env.backupNames(t), 3)
	require.Eventually(t, func() bool {
		return s.Stats() == SchedulerStats{Ticks: 3, Started: 3}
	}, 5*time.Second, time.Millisecond)
}

func TestScheduler_BusyTickIsDropped(t *testing.T) {
	cfg := testSyncConfig()
	cfg.AutoSyncInterval = time.Minute
	env := newTestEnv(t, cfg)

	events, unsubscribe := env.m.Subscribe(64)
	defer unsubscribe()

	entered, release := env.snap.block()
	defer release()

	s := NewScheduler(env.m)
	s.Start(t.Context())
	defer s.Stop()

	env.clock.Advance(time.Minute)
	<-entered

	env.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return s.Stats().Skipped == 1 }, 5*time.Second, time.Millisecond)

	release()
	waitFinished(t, events)

	assert.Equal(t, SchedulerStats{Ticks: 2, Started: 1, Skipped: 1}, s.Stats())
	assert.False(t, env.m.IsSyncing(), "the dropped tick is not queued")
}

func TestScheduler_DisabledIgnoresTicks(t *testing.T) {
	cfg := testSyncConfig()
	cfg.AutoSyncEnabled = false
	cfg.AutoSyncInterval = time.Minute
	env := newTestEnv(t, cfg)

	s := NewScheduler(env.m)
	s.Start(t.Context())
	defer s.Stop()

	env.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return s.Stats().Disabled == 1 }, 5*time.Second, time.Millisecond)

	assert.Zero(t, s.Stats().Started)
	assert.Empty(t, env.backupNames(t))
}

func TestScheduler_IntervalChangeResetsTicker(t *testing.T) {
	cfg := testSyncConfig()
	cfg.AutoSyncInterval = time.Hour
	env := newTestEnv(t, cfg)

	events, unsubscribe := env.m.Subscribe(64)
	defer unsubscribe()

	s := NewScheduler(env.m)
	s.Start(t.Context())
	defer s.Stop()

	cfg.AutoSyncInterval = 10 * time.Minute
	env.m.Reconfigure(cfg)

	// The old interval still governs the pending tick.
	env.clock.Advance(time.Hour)
	waitFinished(t, events)

	env.snap.set("changed")
	env.clock.Advance(10 * time.Minute)
	waitFinished(t, events)

	require.Eventually(t, func() bool { return s.Stats().Started == 2 }, 5*time.Second, time.Millisecond)
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	env := newTestEnv(t, testSyncConfig())
	s := NewScheduler(env.m)

	s.Stop()
	s.Start(t.Context())
	s.Start(t.Context())
	s.Stop()
	s.Stop()

	env.clock.Advance(24 * time.Hour)
	assert.Zero(t, s.Stats().Ticks)
}
