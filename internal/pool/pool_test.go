package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/logger"
	"harvester/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingReporter struct {
	mu      sync.Mutex
	expired []string
	err     error
}

func (r *recordingReporter) MarkExpired(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, id)
	return r.err
}

func accounts(ids ...string) []*models.Account {
	out := make([]*models.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.Account{ID: id, Status: models.AccountValid})
	}
	return out
}

var testConfig = Config{
	BaseCooldown:           time.Minute,
	MaxCooldown:            5 * time.Minute,
	MaxConsecutiveFailures: 2,
}

func newTestPool(t *testing.T, ids ...string) (*Pool, *fakeClock, *recordingReporter) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	reporter := &recordingReporter{}
	p := New(accounts(ids...), testConfig, reporter, logger.NewTestLogger())
	p.now = clock.Now
	return p, clock, reporter
}

func TestAcquireRoundRobin(t *testing.T) {
	p, clock, _ := newTestPool(t, "c", "a", "b")
	ctx := context.Background()

	var got []string
	for i := 0; i < 3; i++ {
		lease, err := p.Acquire("topic")
		require.NoError(t, err)
		got = append(got, lease.Account.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)

	_, err := p.Acquire("topic")
	assert.ErrorIs(t, err, ErrUnavailable, "all accounts leased")

	// Released accounts cool down before they are handed out again
	lease := &Lease{Account: models.Account{ID: "a"}}
	p.Release(ctx, lease, Success)
	_, err = p.Acquire("topic")
	assert.ErrorIs(t, err, ErrUnavailable)

	clock.Advance(time.Minute)
	next, err := p.Acquire("topic")
	require.NoError(t, err)
	assert.Equal(t, "a", next.Account.ID)
}

func TestAcquireExclude(t *testing.T) {
	p, _, _ := newTestPool(t, "a", "b")

	lease, err := p.Acquire("topic", "a")
	require.NoError(t, err)
	assert.Equal(t, "b", lease.Account.ID)

	_, err = p.Acquire("topic", "a")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNoAccountSharedConcurrently(t *testing.T) {
	p, _, _ := newTestPool(t, "a", "b", "c")
	p.now = time.Now
	p.cfg.BaseCooldown = 0

	var inUse sync.Map
	var violations atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				lease, err := p.Wait(context.Background(), "topic", time.Second)
				if err != nil {
					continue
				}
				if _, loaded := inUse.LoadOrStore(lease.Account.ID, true); loaded {
					violations.Add(1)
				}
				time.Sleep(time.Millisecond)
				inUse.Delete(lease.Account.ID)
				p.Release(context.Background(), lease, Success)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, violations.Load())
}

func TestReleaseOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("rate limit doubles cooldown up to the cap", func(t *testing.T) {
		p, _, _ := newTestPool(t, "a")
		want := []time.Duration{2 * time.Minute, 4 * time.Minute, 5 * time.Minute, 5 * time.Minute}
		for _, w := range want {
			lease := &Lease{Account: models.Account{ID: "a"}}
			p.byID["a"].leased = true
			p.Release(ctx, lease, RateLimited)
			assert.Equal(t, w, p.byID["a"].account.Cooldown)
		}
		assert.Equal(t, models.AccountValid, p.byID["a"].account.Status)

		p.byID["a"].leased = true
		p.Release(ctx, &Lease{Account: models.Account{ID: "a"}}, Success)
		assert.Equal(t, time.Minute, p.byID["a"].account.Cooldown)
	})

	t.Run("auth failure quarantines and reports", func(t *testing.T) {
		p, clock, reporter := newTestPool(t, "a", "b")
		lease, err := p.Acquire("topic")
		require.NoError(t, err)

		p.Release(ctx, lease, AuthFailure)
		assert.Equal(t, models.AccountExpired, p.byID["a"].account.Status)
		assert.Equal(t, []string{"a"}, reporter.expired)
		assert.Equal(t, 1, p.Eligible())

		clock.Advance(time.Hour)
		for i := 0; i < 3; i++ {
			next, err := p.Acquire("topic")
			require.NoError(t, err)
			assert.Equal(t, "b", next.Account.ID)
			p.Release(ctx, next, Success)
			clock.Advance(time.Hour)
		}
	})

	t.Run("reporter failure is logged not fatal", func(t *testing.T) {
		log := logger.NewTestLogger()
		reporter := &recordingReporter{err: errors.New("keyring locked")}
		p := New(accounts("a"), testConfig, reporter, log)
		lease, err := p.Acquire("topic")
		require.NoError(t, err)

		p.Release(ctx, lease, AuthFailure)
		assert.True(t, log.HasMessage("Failed to record expired account"))
	})

	t.Run("transient failures bench after the threshold", func(t *testing.T) {
		p, _, _ := newTestPool(t, "a")

		p.Release(ctx, &Lease{Account: models.Account{ID: "a"}}, Transient)
		assert.Equal(t, 1, p.byID["a"].account.ConsecutiveFailures)
		assert.Equal(t, time.Minute, p.byID["a"].account.Cooldown)

		p.Release(ctx, &Lease{Account: models.Account{ID: "a"}}, Transient)
		assert.Equal(t, 0, p.byID["a"].account.ConsecutiveFailures)
		assert.Equal(t, 2*time.Minute, p.byID["a"].account.Cooldown)
	})

	t.Run("double release is a no-op", func(t *testing.T) {
		p, _, _ := newTestPool(t, "a")
		lease, err := p.Acquire("topic")
		require.NoError(t, err)

		p.Release(ctx, lease, RateLimited)
		p.Release(ctx, lease, RateLimited)
		assert.Equal(t, 2*time.Minute, p.byID["a"].account.Cooldown)
	})
}

func TestWait(t *testing.T) {
	t.Run("wakes on release", func(t *testing.T) {
		p := New(accounts("a"), Config{}, nil, logger.NewNopLogger())
		lease, err := p.Acquire("x")
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			p.Release(context.Background(), lease, Success)
		}()

		next, err := p.Wait(context.Background(), "y", time.Second)
		require.NoError(t, err)
		assert.Equal(t, "a", next.Account.ID)
	})

	t.Run("wakes at cooldown expiry", func(t *testing.T) {
		p := New(accounts("a"), Config{BaseCooldown: 30 * time.Millisecond}, nil, logger.NewNopLogger())
		lease, err := p.Acquire("x")
		require.NoError(t, err)
		p.Release(context.Background(), lease, Success)

		start := time.Now()
		next, err := p.Wait(context.Background(), "y", time.Second)
		require.NoError(t, err)
		assert.Equal(t, "a", next.Account.ID)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("times out", func(t *testing.T) {
		p := New(accounts("a"), Config{}, nil, logger.NewNopLogger())
		_, err := p.Acquire("x")
		require.NoError(t, err)

		_, err = p.Wait(context.Background(), "y", 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("returns at once with nothing to wait for", func(t *testing.T) {
		p := New([]*models.Account{{ID: "a", Status: models.AccountExpired}}, Config{}, nil, logger.NewNopLogger())
		start := time.Now()
		_, err := p.Wait(context.Background(), "y", time.Minute)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("honours context", func(t *testing.T) {
		p := New(accounts("a"), Config{}, nil, logger.NewNopLogger())
		_, err := p.Acquire("x")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = p.Wait(ctx, "y", time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStats(t *testing.T) {
	p, _, _ := newTestPool(t, "a", "b", "c")
	p.byID["c"].account.Status = models.AccountBanned
	p.byID["a"].account.AuthToken = "secret"

	lease, err := p.Acquire("topic")
	require.NoError(t, err)
	_, err = p.Acquire("topic")
	require.NoError(t, err)
	p.Release(context.Background(), lease, Success)

	s := p.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Valid)
	assert.Equal(t, 1, s.Banned)
	assert.Equal(t, 1, s.Leased)
	assert.Equal(t, 1, s.CoolingDown)
	for _, a := range s.Accounts {
		assert.Empty(t, a.AuthToken)
	}
	assert.Equal(t, 2, p.Eligible())
}

func TestNewSkipsDuplicates(t *testing.T) {
	p := New(append(accounts("a", "b"), &models.Account{ID: "a"}, nil, &models.Account{}), Config{}, nil, logger.NewNopLogger())
	assert.Equal(t, 2, p.Stats().Total)
}
