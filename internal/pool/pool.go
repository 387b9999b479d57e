package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// ErrUnavailable is returned when no account can be leased right now
var ErrUnavailable = errors.New("no account available")

// Outcome is how a leased account fared
type Outcome string

const (
	Success     Outcome = "success"
	RateLimited Outcome = "rate_limited"
	AuthFailure Outcome = "auth_failure"
	Transient   Outcome = "transient"
)

// ExpiryReporter is told about accounts whose session was rejected
type ExpiryReporter interface {
	MarkExpired(ctx context.Context, id string) error
}

// Config holds rotation settings
type Config struct {
	BaseCooldown           time.Duration
	MaxCooldown            time.Duration
	MaxConsecutiveFailures int
}

// Lease is exclusive use of one account for one topic scan
type Lease struct {
	Account  models.Account
	Topic    string
	Acquired time.Time

	released bool
}

// Stats is a snapshot of the pool for operator output
type Stats struct {
	Total       int
	Valid       int
	Expired     int
	Banned      int
	Leased      int
	CoolingDown int
	Accounts    []models.Account
}

type entry struct {
	account models.Account
	leased  bool
}

// Pool rotates scraping identities
type Pool struct {
	cfg      Config
	reporter ExpiryReporter
	logger   logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries []*entry
	byID    map[string]*entry
	next    int
	// released is closed and replaced whenever an account is handed back
	released chan struct{}
}

// New creates a pool over accounts. Duplicate ids keep the first entry.
func New(accounts []*models.Account, cfg Config, reporter ExpiryReporter, log logger.Logger) *Pool {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.MaxCooldown < cfg.BaseCooldown {
		cfg.MaxCooldown = cfg.BaseCooldown
	}

	p := &Pool{
		cfg:      cfg,
		reporter: reporter,
		logger:   log.WithField("component", "pool"),
		now:      time.Now,
		byID:     make(map[string]*entry, len(accounts)),
		released: make(chan struct{}),
	}
	for _, a := range accounts {
		if a == nil || a.ID == "" {
			continue
		}
		if _, dup := p.byID[a.ID]; dup {
			continue
		}
		e := &entry{account: *a}
		if e.account.Status == "" {
			e.account.Status = models.AccountValid
		}
		if e.account.Cooldown == 0 {
			e.account.Cooldown = cfg.BaseCooldown
		}
		p.entries = append(p.entries, e)
		p.byID[a.ID] = e
	}
	sort.Slice(p.entries, func(i, j int) bool { return p.entries[i].account.ID < p.entries[j].account.ID })

	return p
}

// Acquire leases the next usable account round-robin. Accounts in exclude
// are skipped.
func (p *Pool) Acquire(topic string, exclude ...string) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lease := p.acquireLocked(topic, exclude)
	if lease == nil {
		return nil, ErrUnavailable
	}
	return lease, nil
}

func (p *Pool) acquireLocked(topic string, exclude []string) *Lease {
	n := len(p.entries)
	now := p.now()
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		e := p.entries[idx]
		if !p.usable(e, now, exclude) {
			continue
		}

		e.leased = true
		p.next = idx + 1
		p.logger.DebugWithFields("Account leased", map[string]interface{}{
			"account": e.account.ID,
			"topic":   topic,
		})
		return &Lease{Account: e.account, Topic: topic, Acquired: now}
	}
	return nil
}

func (p *Pool) usable(e *entry, now time.Time, exclude []string) bool {
	if e.leased || e.account.Status != models.AccountValid || excluded(e.account.ID, exclude) {
		return false
	}
	return !now.Before(e.account.CooldownUntil)
}

func excluded(id string, exclude []string) bool {
	for _, x := range exclude {
		if x == id {
			return true
		}
	}
	return false
}

// Wait leases an account, blocking until one frees up, maxWait elapses or
// ctx ends. It returns ErrUnavailable straight away when no candidate could
// ever qualify, and on timeout.
func (p *Pool) Wait(ctx context.Context, topic string, maxWait time.Duration, exclude ...string) (*Lease, error) {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		if lease := p.acquireLocked(topic, exclude); lease != nil {
			p.mu.Unlock()
			return lease, nil
		}
		wake, ok := p.nextWakeLocked(exclude)
		released := p.released
		p.mu.Unlock()

		if !ok {
			return nil, ErrUnavailable
		}

		var cooldown *time.Timer
		var expired <-chan time.Time
		if !wake.IsZero() {
			cooldown = time.NewTimer(wake.Sub(p.now()))
			expired = cooldown.C
		}

		select {
		case <-ctx.Done():
			stopTimer(cooldown)
			return nil, ctx.Err()
		case <-deadline.C:
			stopTimer(cooldown)
			return nil, ErrUnavailable
		case <-released:
		case <-expired:
		}
		stopTimer(cooldown)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// nextWakeLocked returns the earliest cooldown expiry among idle candidates.
// A zero time means only leased accounts remain and a release must come
// first. ok is false when no valid candidate exists at all.
func (p *Pool) nextWakeLocked(exclude []string) (time.Time, bool) {
	var wake time.Time
	var ok bool
	for _, e := range p.entries {
		if e.account.Status != models.AccountValid || excluded(e.account.ID, exclude) {
			continue
		}
		ok = true
		if e.leased {
			continue
		}
		if wake.IsZero() || e.account.CooldownUntil.Before(wake) {
			wake = e.account.CooldownUntil
		}
	}
	return wake, ok
}

// Release hands an account back and applies the outcome to its health.
// Releasing the same lease twice is a no-op.
func (p *Pool) Release(ctx context.Context, lease *Lease, outcome Outcome) {
	if lease == nil {
		return
	}

	p.mu.Lock()
	e, ok := p.byID[lease.Account.ID]
	if !ok || lease.released {
		p.mu.Unlock()
		return
	}
	lease.released = true
	e.leased = false

	now := p.now()
	a := &e.account
	a.LastUsed = now

	switch outcome {
	case Success:
		a.ConsecutiveFailures = 0
		a.Cooldown = p.cfg.BaseCooldown
	case RateLimited:
		a.Cooldown = p.backoff(a.Cooldown)
		logger.LogRateLimit(p.logger, lease.Topic, a.ID, a.Cooldown)
	case AuthFailure:
		a.Status = models.AccountExpired
		p.logger.WarnWithFields("Account session rejected, quarantined", map[string]interface{}{
			"account": a.ID,
			"topic":   lease.Topic,
		})
	case Transient:
		a.ConsecutiveFailures++
		if a.ConsecutiveFailures >= p.cfg.MaxConsecutiveFailures {
			a.Cooldown = p.backoff(a.Cooldown)
			a.ConsecutiveFailures = 0
			p.logger.WarnWithFields("Account benched after repeated failures", map[string]interface{}{
				"account":  a.ID,
				"cooldown": a.Cooldown,
			})
		}
	}
	a.CooldownUntil = now.Add(a.Cooldown)

	close(p.released)
	p.released = make(chan struct{})
	p.mu.Unlock()

	if outcome == AuthFailure && p.reporter != nil {
		if err := p.reporter.MarkExpired(ctx, lease.Account.ID); err != nil {
			p.logger.WithError(err).WarnWithFields("Failed to record expired account", map[string]interface{}{
				"account": lease.Account.ID,
			})
		}
	}
}

func (p *Pool) backoff(current time.Duration) time.Duration {
	next := current * 2
	if next <= 0 {
		next = p.cfg.BaseCooldown * 2
	}
	if p.cfg.MaxCooldown > 0 && next > p.cfg.MaxCooldown {
		next = p.cfg.MaxCooldown
	}
	return next
}

// Eligible counts accounts that can serve a scan now or later in the run
func (p *Pool) Eligible() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.entries {
		if e.account.Status == models.AccountValid {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the table
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	s := Stats{Total: len(p.entries), Accounts: make([]models.Account, 0, len(p.entries))}
	for _, e := range p.entries {
		switch e.account.Status {
		case models.AccountValid:
			s.Valid++
		case models.AccountExpired:
			s.Expired++
		case models.AccountBanned:
			s.Banned++
		}
		if e.leased {
			s.Leased++
		} else if e.account.Status == models.AccountValid && now.Before(e.account.CooldownUntil) {
			s.CoolingDown++
		}
		a := e.account
		a.AuthToken, a.CSRFToken = "", ""
		s.Accounts = append(s.Accounts, a)
	}
	return s
}
