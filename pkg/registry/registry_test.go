package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/core-tools/hsu-master/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testUnit string

func (u testUnit) ID() string { return string(u) }

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry(RegistryOptions{})

	require.NoError(t, r.Register(testUnit("api"), StatusStarting))
	err := r.Register(testUnit("api"), StatusRunning)
	assert.True(t, errors.IsDuplicateUnitError(err))

	assert.True(t, errors.IsValidationError(r.Register(testUnit(""), StatusRunning)))
	assert.True(t, errors.IsValidationError(r.Register(testUnit("db"), UnitStatus("sleeping"))))
	assert.Equal(t, 1, r.Len())
}

func TestGet_Snapshot(t *testing.T) {
	clk := testclock.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRegistry(RegistryOptions{Clock: clk})

	_, err := r.Get("missing")
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, r.Register(testUnit("api"), StatusStarting))
	clk.Advance(time.Second)
	require.NoError(t, r.UpdateStatus("api", StatusRunning))

	record, err := r.Get("api")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, record.Status)
	assert.Equal(t, clk.Now(), record.StatusSince)
	assert.Equal(t, clk.Now().Add(-time.Second), record.RegisteredAt)
	assert.Equal(t, testUnit("api"), record.Unit)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		initial UnitStatus
		steps   []UnitStatus
		wantErr bool
	}{
		{"starting_to_running", StatusStarting, []UnitStatus{StatusRunning}, false},
		{"running_unhealthy_oscillation", StatusStarting, []UnitStatus{StatusRunning, StatusUnhealthy, StatusRunning}, false},
		{"same_status_is_noop", StatusRunning, []UnitStatus{StatusRunning}, false},
		{"stopped_is_terminal", StatusRunning, []UnitStatus{StatusStopped, StatusRunning}, true},
		{"no_return_to_starting", StatusRunning, []UnitStatus{StatusStarting}, true},
		{"managed_never_unknown", StatusRunning, []UnitStatus{StatusUnknown}, true},
		{"discovered_unknown_round_trip", StatusUnknown, []UnitStatus{StatusRunning, StatusUnknown, StatusUnhealthy, StatusUnknown}, false},
		{"discovered_unknown_to_stopped", StatusUnknown, []UnitStatus{StatusStopped}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(RegistryOptions{})
			require.NoError(t, r.Register(testUnit("u"), tt.initial))

			var err error
			for _, step := range tt.steps {
				if err = r.UpdateStatus("u", step); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.True(t, errors.IsConflictError(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateAfterRemoval(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	require.NoError(t, r.Register(testUnit("api"), StatusRunning))

	record, err := r.Remove("api")
	require.NoError(t, err)
	assert.Equal(t, "api", record.ID)

	assert.True(t, errors.IsNotFoundError(r.UpdateStatus("api", StatusUnhealthy)))
	_, err = r.Remove("api")
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, r.Register(testUnit("db"), StatusRunning))
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.True(t, errors.IsNotFoundError(r.UpdateStatus("db", StatusStopped)))
}

func TestListByStatus_RegistrationOrder(t *testing.T) {
	r := NewRegistry(RegistryOptions{Shards: 4})
	ids := []string{"zeta", "alpha", "mid", "beta", "omega"}
	for _, id := range ids {
		require.NoError(t, r.Register(testUnit(id), StatusRunning))
	}
	require.NoError(t, r.UpdateStatus("mid", StatusUnhealthy))

	var listed []string
	for _, record := range r.List() {
		listed = append(listed, record.ID)
	}
	assert.Equal(t, ids, listed)

	var running []string
	for _, record := range r.ListByStatus(StatusRunning) {
		running = append(running, record.ID)
	}
	assert.Equal(t, []string{"zeta", "alpha", "beta", "omega"}, running)
	assert.Len(t, r.ListByStatus(StatusUnhealthy), 1)
	assert.Empty(t, r.ListByStatus(StatusStopped))
}

func TestApplyCheck_DropsStaleResults(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	require.NoError(t, r.Register(testUnit("api"), StatusRunning))

	first, err := r.BeginCheck("api")
	require.NoError(t, err)
	second, err := r.BeginCheck("api")
	require.NoError(t, err)
	assert.Greater(t, second, first)

	applied, err := r.ApplyCheck("api", second, StatusUnhealthy, fmt.Errorf("deadline exceeded"))
	require.NoError(t, err)
	assert.True(t, applied)

	// the slower, older check finishes last and must not overwrite the newer result
	applied, err = r.ApplyCheck("api", first, StatusRunning, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	record, err := r.Get("api")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, record.Status)
	assert.Equal(t, "deadline exceeded", record.LastError)
}

func TestApplyCheck_AfterStop(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	require.NoError(t, r.Register(testUnit("api"), StatusRunning))
	ticket, err := r.BeginCheck("api")
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus("api", StatusStopped))

	applied, err := r.ApplyCheck("api", ticket, StatusRunning, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	// a check begun after the stop still cannot leave the terminal state
	ticket, err = r.BeginCheck("api")
	require.NoError(t, err)
	applied, err = r.ApplyCheck("api", ticket, StatusRunning, nil)
	assert.False(t, applied)
	assert.True(t, errors.IsConflictError(err))
}

func TestApplyCheck_DroppedAfterReportedStatus(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	require.NoError(t, r.Register(testUnit("api"), StatusRunning))

	ticket, err := r.BeginCheck("api")
	require.NoError(t, err)

	// the worker reports a failure while the check is in flight
	require.NoError(t, r.UpdateStatusWithError("api", StatusUnhealthy, fmt.Errorf("disk full")))

	applied, err := r.ApplyCheck("api", ticket, StatusRunning, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	record, err := r.Get("api")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, record.Status)
	assert.Equal(t, "disk full", record.LastError)

	// checks begun after the report apply normally
	ticket, err = r.BeginCheck("api")
	require.NoError(t, err)
	applied, err = r.ApplyCheck("api", ticket, StatusRunning, nil)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestObserver(t *testing.T) {
	type transition struct{ from, to UnitStatus }
	var got []transition
	r := NewRegistry(RegistryOptions{Observer: func(id string, from, to UnitStatus) {
		got = append(got, transition{from, to})
	}})

	require.NoError(t, r.Register(testUnit("api"), StatusStarting))
	require.NoError(t, r.UpdateStatus("api", StatusRunning))
	require.NoError(t, r.UpdateStatus("api", StatusRunning))
	require.NoError(t, r.UpdateStatusWithError("api", StatusStopped, fmt.Errorf("exhausted")))

	assert.Equal(t, []transition{
		{"", StatusStarting},
		{StatusStarting, StatusRunning},
		{StatusRunning, StatusStopped},
	}, got)
}

func TestConcurrentMutation_NoLostUpdate(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	require.NoError(t, r.Register(testUnit("api"), StatusRunning))

	const workers = 64
	tickets := make(chan uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, err := r.BeginCheck("api")
			assert.NoError(t, err)
			tickets <- ticket

			status := StatusRunning
			if i%2 == 0 {
				status = StatusUnhealthy
			}
			_, err = r.ApplyCheck("api", ticket, status, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	close(tickets)

	seen := make(map[uint64]bool)
	for ticket := range tickets {
		assert.False(t, seen[ticket], "ticket %d issued twice", ticket)
		seen[ticket] = true
	}
	assert.Len(t, seen, workers)
	for i := uint64(1); i <= workers; i++ {
		assert.True(t, seen[i])
	}
}

func TestConcurrentRegister_DistinctIDs(t *testing.T) {
	r := NewRegistry(RegistryOptions{})

	const units = 200
	var wg sync.WaitGroup
	for i := 0; i < units; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("unit-%d", i)
			assert.NoError(t, r.Register(testUnit(id), StatusStarting))
			assert.NoError(t, r.UpdateStatus(id, StatusRunning))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, units, r.Len())
	assert.Len(t, r.ListByStatus(StatusRunning), units)
}

func TestDistinctIDsDoNotContend(t *testing.T) {
	release := make(chan struct{})
	blocked := make(chan struct{})
	r := NewRegistry(RegistryOptions{Shards: 1, Observer: func(id string, from, to UnitStatus) {
		if id == "slow" && to == StatusUnhealthy {
			close(blocked)
			<-release
		}
	}})
	require.NoError(t, r.Register(testUnit("slow"), StatusRunning))
	require.NoError(t, r.Register(testUnit("fast"), StatusRunning))

	done := make(chan error, 1)
	go func() { done <- r.UpdateStatus("slow", StatusUnhealthy) }()
	<-blocked

	// "slow" holds its own lock; "fast" shares the only shard yet must not wait for it
	require.NoError(t, r.UpdateStatus("fast", StatusUnhealthy))
	record, err := r.Get("fast")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, record.Status)

	close(release)
	require.NoError(t, <-done)
}
