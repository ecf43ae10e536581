package eventhandler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulesmaster/progress-sync/internal/application/quizhistory"
	"github.com/rulesmaster/progress-sync/internal/application/saga"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeMigrator struct {
	calls []string
	err   error
}

func (m *fakeMigrator) Migrate(_ context.Context, userID string) (*saga.MigrationResult, error) {
	m.calls = append(m.calls, userID)
	if m.err != nil {
		return nil, m.err
	}
	return &saga.MigrationResult{UserID: userID}, nil
}

type fakeRefresher struct {
	users []string
	err   error
}

func (r *fakeRefresher) RefreshAll(_ context.Context, userID string) (int, error) {
	r.users = append(r.users, userID)
	return 2, r.err
}

type fakeSyncer struct {
	calls int
	err   error
}

func (s *fakeSyncer) SyncPending(context.Context) (quizhistory.SyncReport, error) {
	s.calls++
	return quizhistory.SyncReport{Attempted: 1, Remaining: 1}, s.err
}

type blockingDrainer struct{ waited atomic.Bool }

func (d *blockingDrainer) Wait(ctx context.Context) error {
	d.waited.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

type instantDrainer struct{ calls int }

func (d *instantDrainer) Wait(context.Context) error {
	d.calls++
	return nil
}

type recordingSubscriber struct {
	types []shared.EventType
	err   error
}

func (s *recordingSubscriber) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	s.types = append(s.types, t)
	return s.err
}

func (s *recordingSubscriber) SubscribeAll(shared.EventHandler) error { return s.err }

func TestOnUserAuthenticated_RunsMigration(t *testing.T) {
	m := &fakeMigrator{}
	h := NewOnUserAuthenticatedHandler(m, nil)

	require.NoError(t, h.Handle(context.Background(), shared.NewUserAuthenticatedEvent("u1", t0)))
	assert.Equal(t, []string{"u1"}, m.calls)
}

func TestOnUserAuthenticated_SwallowsMigrationFailure(t *testing.T) {
	m := &fakeMigrator{err: shared.Unavailable("remote", "FetchProgress", errors.New("503"))}
	h := NewOnUserAuthenticatedHandler(m, nil)

	assert.NoError(t, h.Handle(context.Background(), shared.NewUserAuthenticatedEvent("u1", t0)))
	assert.Len(t, m.calls, 1)
}

func TestOnAppForegrounded_RefreshesAndSyncs(t *testing.T) {
	r := &fakeRefresher{err: errors.New("offline")}
	s := &fakeSyncer{err: errors.New("offline")}
	h := NewOnAppForegroundedHandler(r, s, nil)

	assert.NoError(t, h.Handle(context.Background(), shared.NewAppForegroundedEvent("u1", t0)))
	assert.Equal(t, []string{"u1"}, r.users)
	assert.Equal(t, 1, s.calls, "a refresh failure does not skip the quiz sync")
}

func TestOnUserSignedOut_DrainsWithTimeout(t *testing.T) {
	slow := &blockingDrainer{}
	after := &instantDrainer{}
	h := NewOnUserSignedOutHandler(20*time.Millisecond, nil, slow, after)

	start := time.Now()
	assert.NoError(t, h.Handle(context.Background(), shared.NewUserSignedOutEvent("u1", t0)))
	assert.True(t, slow.waited.Load())
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, after.calls, "draining stops once the deadline passed")
}

func TestOnUserSignedOut_WaitsForEveryDrainer(t *testing.T) {
	a, b := &instantDrainer{}, &instantDrainer{}
	h := NewOnUserSignedOutHandler(0, nil, a, b)

	require.NoError(t, h.Handle(context.Background(), shared.NewUserSignedOutEvent("u1", t0)))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestHandlers_Register(t *testing.T) {
	sub := &recordingSubscriber{}
	hs := Handlers{
		UserAuthenticated: NewOnUserAuthenticatedHandler(&fakeMigrator{}, nil),
		UserSignedOut:     NewOnUserSignedOutHandler(0, nil),
	}

	require.NoError(t, hs.Register(sub))
	assert.Equal(t, []shared.EventType{shared.EventUserAuthenticated, shared.EventUserSignedOut}, sub.types)

	sub = &recordingSubscriber{err: errors.New("bus closed")}
	assert.Error(t, hs.Register(sub))
}
