package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samims/keepsake/internal/delivery"
	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by the processor and test hooks.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memKeepsakes mirrors the conditional updates of the Postgres keepsake storage.
type memKeepsakes struct {
	mu    sync.Mutex
	items map[uuid.UUID]*model.Keepsake

	selectErr   error
	claimErr    error
	completeErr error
	stolen      map[uuid.UUID]bool
	extensions  int
	// beforeComplete runs before the conditional status write, outside the lock.
	beforeComplete func(id uuid.UUID)
	completions    []model.Completion
}

func newMemKeepsakes() *memKeepsakes {
	return &memKeepsakes{items: map[uuid.UUID]*model.Keepsake{}, stolen: map[uuid.UUID]bool{}}
}

func (m *memKeepsakes) put(k model.Keepsake) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[k.ID] = &k
}

func (m *memKeepsakes) get(id uuid.UUID) model.Keepsake {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

func (m *memKeepsakes) Ping(context.Context) error { return nil }

func (m *memKeepsakes) SelectDue(_ context.Context, now time.Time, after model.Cursor, limit int) ([]model.Keepsake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selectErr != nil {
		return nil, m.selectErr
	}

	var due []model.Keepsake
	for _, k := range m.items {
		ready := (k.Status == model.StatusScheduled && !k.DeliveryTimestamp.After(now)) ||
			(k.Status == model.StatusRetryPending && k.NextAttemptAt != nil && !k.NextAttemptAt.After(now))
		if ready && cursorBefore(after, *k) {
			due = append(due, *k)
		}
	}
	sort.Slice(due, func(i, j int) bool { return cursorBefore(model.After(due[i]), due[j]) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func cursorBefore(c model.Cursor, k model.Keepsake) bool {
	if !c.DeliveryTimestamp.Equal(k.DeliveryTimestamp) {
		return c.DeliveryTimestamp.Before(k.DeliveryTimestamp)
	}
	return bytes.Compare(c.ID[:], k.ID[:]) < 0
}

func (m *memKeepsakes) Claim(_ context.Context, k model.Keepsake, runID uuid.UUID, now, leaseUntil time.Time) (model.Keepsake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return model.Keepsake{}, m.claimErr
	}
	cur, ok := m.items[k.ID]
	if !ok || m.stolen[k.ID] || !cur.Status.Selectable() || cur.AttemptCount != k.AttemptCount {
		return model.Keepsake{}, appErr.ErrLeaseLost
	}
	cur.Status = model.StatusInProgress
	cur.LeaseOwner = &runID
	cur.LeaseExpiresAt = &leaseUntil
	cur.AttemptCount++
	cur.UpdatedAt = now
	return *cur, nil
}

func (m *memKeepsakes) ExtendLease(_ context.Context, id, runID uuid.UUID, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[id]
	if !ok || cur.Status != model.StatusInProgress || cur.LeaseOwner == nil || *cur.LeaseOwner != runID {
		return appErr.ErrLeaseLost
	}
	cur.LeaseExpiresAt = &until
	m.extensions++
	return nil
}

// steal hands the lease of id to another run, as a sweep followed by a foreign claim would.
func (m *memKeepsakes) steal(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	other := uuid.New()
	m.items[id].LeaseOwner = &other
}

func (m *memKeepsakes) Complete(_ context.Context, c model.Completion) error {
	if m.beforeComplete != nil {
		m.beforeComplete(c.KeepsakeID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	cur := m.items[c.KeepsakeID]
	if cur.Status != model.StatusInProgress || cur.LeaseOwner == nil || *cur.LeaseOwner != c.RunID {
		return appErr.ErrLeaseLost
	}
	cur.Status = c.Status
	if c.SentAt != nil {
		cur.SentAt = c.SentAt
	}
	cur.NextAttemptAt = c.NextAttemptAt
	cur.LastError = c.LastError
	cur.LeaseOwner = nil
	cur.LeaseExpiresAt = nil
	cur.UpdatedAt = c.At
	m.completions = append(m.completions, c)
	return nil
}

func (m *memKeepsakes) ReleaseExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range m.items {
		if k.Status == model.StatusInProgress && k.LeaseExpiresAt != nil && k.LeaseExpiresAt.Before(now) {
			k.Status = model.StatusScheduled
			k.LeaseOwner = nil
			k.LeaseExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (m *memKeepsakes) Requeue(_ context.Context, id uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.items[id]
	if !ok {
		return appErr.ErrNotFound
	}
	if k.Status != model.StatusError {
		return appErr.ErrNotRequeueable
	}
	k.Status = model.StatusScheduled
	k.AttemptCount = 0
	k.NextAttemptAt = nil
	k.LastError = nil
	k.UpdatedAt = now
	return nil
}

type memRecipients struct {
	byKeepsake map[uuid.UUID][]model.Recipient
	err        error
}

func (m *memRecipients) Recipients(_ context.Context, id uuid.UUID) ([]model.Recipient, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byKeepsake[id], nil
}

func (m *memRecipients) Ping(context.Context) error { return nil }

type finishedRun struct {
	summary model.Summary
	status  model.RunStatus
	err     error
}

type memRuns struct {
	mu       sync.Mutex
	started  []uuid.UUID
	finished []finishedRun
	active   int
	startErr error
	latest   model.Run
}

func (m *memRuns) StartRun(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, id)
	return nil
}

func (m *memRuns) FinishRun(_ context.Context, s model.Summary, status model.RunStatus, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, finishedRun{summary: s, status: status, err: runErr})
	return nil
}

func (m *memRuns) ActiveRuns(context.Context, uuid.UUID, time.Time) (int, error) {
	return m.active, nil
}

func (m *memRuns) LatestRun(context.Context) (model.Run, error) {
	if m.latest.ID == uuid.Nil {
		return model.Run{}, appErr.ErrNotFound
	}
	return m.latest, nil
}

func (m *memRuns) last() finishedRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished[len(m.finished)-1]
}

// fakeChannel records every message and fails the addresses listed in fail.
// With a delay set it answers only after the delay, or with the context error.
type fakeChannel struct {
	name string

	mu     sync.Mutex
	fail   map[string]error
	sent   []delivery.Message
	onSend func()
	delay  time.Duration
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, fail: map[string]error{}}
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, msg delivery.Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	err := c.fail[msg.To]
	hook := c.onSend
	delay := c.delay
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *fakeChannel) Ping(context.Context) error { return nil }

func (c *fakeChannel) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeChannel) messages() []delivery.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery.Message(nil), c.sent...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (n *recordingNotifier) Emit(_ context.Context, o Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, o)
}

func (n *recordingNotifier) all() []Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Outcome(nil), n.outcomes...)
}

type failingNotificationStore struct {
	inserted []*model.Notification
	err      error
}

func (s *failingNotificationStore) Insert(_ context.Context, n *model.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, n)
	return nil
}

func (s *failingNotificationStore) Ping(context.Context) error { return s.err }

type recordingPublisher struct {
	events []model.OutcomeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt model.OutcomeEvent) error {
	p.events = append(p.events, evt)
	return p.err
}

var (
	errTransient = appErr.Transient("email send", errors.New("connection reset"))
	errPermanent = appErr.Permanent("email send", errors.New("550 no such user"))
)
