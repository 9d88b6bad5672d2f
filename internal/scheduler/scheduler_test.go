package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradingx/internal/domain"
	"tradingx/internal/ports"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockUserStore struct {
	ports.UserStore

	mu     sync.Mutex
	active []*domain.UserAccount
}

func (m *mockUserStore) FindActive(ctx context.Context) ([]*domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.UserAccount(nil), m.active...), nil
}

type mockScanner struct {
	signals []*domain.Signal
	err     error
	calls   atomic.Int64
}

func (m *mockScanner) Scan(ctx context.Context) ([]*domain.Signal, error) {
	m.calls.Add(1)
	return m.signals, m.err
}

// lifecycleRecorder counts concurrent and total runs per user.
type lifecycleRecorder struct {
	mu         sync.Mutex
	running    map[int64]int
	maxRunning map[int64]int
	total      map[int64]int
	block      chan struct{} // non-nil keeps lifecycles running until closed
	panicOn    int64         // userID whose lifecycle panics
}

func newRecorder() *lifecycleRecorder {
	return &lifecycleRecorder{
		running:    make(map[int64]int),
		maxRunning: make(map[int64]int),
		total:      make(map[int64]int),
	}
}

func (r *lifecycleRecorder) run(ctx context.Context, userID int64, sig *domain.Signal) {
	r.mu.Lock()
	r.running[userID]++
	if r.running[userID] > r.maxRunning[userID] {
		r.maxRunning[userID] = r.running[userID]
	}
	r.total[userID]++
	block := r.block
	shouldPanic := userID == r.panicOn
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running[userID]--
		r.mu.Unlock()
	}()

	if shouldPanic {
		panic("lifecycle blew up")
	}
	if block != nil {
		<-block
	}
}

func (r *lifecycleRecorder) totalRuns(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total[userID]
}

func (r *lifecycleRecorder) maxConcurrent(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRunning[userID]
}

// Helpers

func readyUser(id int64) *domain.UserAccount {
	return &domain.UserAccount{ID: id, Capital: 100, Status: domain.StatusActive, HasCredentials: true}
}

func oneSignal() []*domain.Signal {
	return []*domain.Signal{{Symbol: "BTCUSDT", Strength: 0.9, EntryPrice: 100}}
}

func newTestScheduler(t *testing.T, users *mockUserStore, scanner *mockScanner, rec *lifecycleRecorder) *Scheduler {
	t.Helper()
	s, err := New(Config{TickInterval: time.Hour, MinCapital: 5}, users, scanner, rec.run, &mockLogger{})
	require.NoError(t, err)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// Tests

func TestTick_DispatchesReadyUsers(t *testing.T) {
	users := &mockUserStore{active: []*domain.UserAccount{readyUser(1), readyUser(2)}}
	rec := newRecorder()
	s := newTestScheduler(t, users, &mockScanner{signals: oneSignal()}, rec)

	s.Tick(context.Background())

	waitFor(t, func() bool { return rec.totalRuns(1) == 1 && rec.totalRuns(2) == 1 })
	waitFor(t, func() bool { return s.ActiveCount() == 0 })
}

func TestTick_OccupiedSlotIsNoOp(t *testing.T) {
	users := &mockUserStore{active: []*domain.UserAccount{readyUser(1)}}
	rec := newRecorder()
	rec.block = make(chan struct{})
	s := newTestScheduler(t, users, &mockScanner{signals: oneSignal()}, rec)

	s.Tick(context.Background())
	waitFor(t, func() bool { return s.HasActiveLifecycle(1) })

	// Second tick while the lifecycle is still running: no second start.
	s.Tick(context.Background())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, rec.totalRuns(1))

	close(rec.block)
	waitFor(t, func() bool { return !s.HasActiveLifecycle(1) })

	// Slot freed: the next tick may start a fresh lifecycle.
	s.Tick(context.Background())
	waitFor(t, func() bool { return rec.totalRuns(1) == 2 })
}

func TestTick_ConcurrentTicksNeverDuplicate(t *testing.T) {
	users := &mockUserStore{active: []*domain.UserAccount{readyUser(1), readyUser(2), readyUser(3)}}
	rec := newRecorder()
	rec.block = make(chan struct{})
	s := newTestScheduler(t, users, &mockScanner{signals: oneSignal()}, rec)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(context.Background())
		}()
	}
	wg.Wait()
	close(rec.block)
	waitFor(t, func() bool { return s.ActiveCount() == 0 })

	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, 1, rec.maxConcurrent(id), "user %d had concurrent lifecycles", id)
		assert.Equal(t, 1, rec.totalRuns(id), "user %d was dispatched more than once", id)
	}
}

func TestTick_SlotReleasedAfterPanic(t *testing.T) {
	users := &mockUserStore{active: []*domain.UserAccount{readyUser(1)}}
	rec := newRecorder()
	rec.panicOn = 1
	s := newTestScheduler(t, users, &mockScanner{signals: oneSignal()}, rec)

	s.Tick(context.Background())
	waitFor(t, func() bool { return rec.totalRuns(1) == 1 && !s.HasActiveLifecycle(1) })

	// The crashed user can be dispatched again on the next tick.
	s.Tick(context.Background())
	waitFor(t, func() bool { return rec.totalRuns(1) == 2 })
}

func TestTick_SkipsUnreadyUsers(t *testing.T) {
	noCreds := readyUser(2)
	noCreds.HasCredentials = false
	lowCapital := readyUser(3)
	lowCapital.Capital = 1

	users := &mockUserStore{active: []*domain.UserAccount{readyUser(1), noCreds, lowCapital}}
	rec := newRecorder()
	s := newTestScheduler(t, users, &mockScanner{signals: oneSignal()}, rec)

	s.Tick(context.Background())
	waitFor(t, func() bool { return rec.totalRuns(1) == 1 })
	assert.Equal(t, 0, rec.totalRuns(2))
	assert.Equal(t, 0, rec.totalRuns(3))
}

func TestTick_NoDispatchWhenScanFails(t *testing.T) {
	users := &mockUserStore{active: []*domain.UserAccount{readyUser(1)}}
	rec := newRecorder()
	s := newTestScheduler(t, users, &mockScanner{err: ports.ErrExchangeUnavailable}, rec)

	s.Tick(context.Background())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, rec.totalRuns(1))
	assert.Equal(t, 0, s.ActiveCount())
}

func TestTick_NoOpportunityIsNormal(t *testing.T) {
	users := &mockUserStore{active: []*domain.UserAccount{readyUser(1)}}
	rec := newRecorder()
	s := newTestScheduler(t, users, &mockScanner{}, rec)

	s.Tick(context.Background())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, rec.totalRuns(1))
}

func TestTick_ScansOncePerTick(t *testing.T) {
	users := &mockUserStore{active: []*domain.UserAccount{readyUser(1), readyUser(2), readyUser(3)}}
	rec := newRecorder()
	scanner := &mockScanner{signals: oneSignal()}
	s := newTestScheduler(t, users, scanner, rec)

	s.Tick(context.Background())
	waitFor(t, func() bool { return s.ActiveCount() == 0 })
	assert.Equal(t, int64(1), scanner.calls.Load())
}
