package history

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"staffline/internal/config"
	"staffline/internal/domain"
	"staffline/internal/repo"
)

type memSource struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memSource) add(evt domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evt.ID = int64(len(m.events) + 1)
	m.events = append(m.events, evt)
}

func (m *memSource) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, evt := range m.events {
		if evt.ID > cursor && len(out) < limit {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (m *memSource) LatestEventID(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

type recordingSink struct {
	accept string
	failOn int64
	fails  int
	got    []int64
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Accepts(evt domain.Event) bool {
	return r.accept == "" || evt.ActivityType == r.accept
}

func (r *recordingSink) Deliver(_ context.Context, evt domain.Event) error {
	if evt.ID == r.failOn && r.fails > 0 {
		r.fails--
		return errors.New("boom")
	}
	r.got = append(r.got, evt.ID)
	return nil
}

func TestDispatcherStartsAtLatestEvent(t *testing.T) {
	src := &memSource{}
	src.add(domain.Event{ActivityType: domain.ActivityCreate})
	sink := &recordingSink{}
	d := NewDispatcher(src, sink)

	require.Equal(t, 0, d.DispatchOnce(context.Background()))
	src.add(domain.Event{ActivityType: domain.ActivityAssign})
	src.add(domain.Event{ActivityType: domain.ActivityRelease})
	require.Equal(t, 2, d.DispatchOnce(context.Background()))
	require.Equal(t, []int64{2, 3}, sink.got)
	require.Equal(t, 0, d.DispatchOnce(context.Background()))
}

func TestDispatcherRetriesFromFailedEvent(t *testing.T) {
	src := &memSource{}
	sink := &recordingSink{failOn: 2, fails: 1}
	d := NewDispatcher(src, sink)
	d.DispatchOnce(context.Background())

	src.add(domain.Event{ActivityType: domain.ActivityAssign})
	src.add(domain.Event{ActivityType: domain.ActivityAssign})
	src.add(domain.Event{ActivityType: domain.ActivityAssign})
	require.Equal(t, 1, d.DispatchOnce(context.Background()))
	require.Equal(t, 2, d.DispatchOnce(context.Background()))
	require.Equal(t, []int64{1, 2, 3}, sink.got)
}

func TestDispatcherSkipsFilteredEvents(t *testing.T) {
	src := &memSource{}
	sink := &recordingSink{accept: domain.ActivityClose}
	d := NewDispatcher(src, sink)
	d.DispatchOnce(context.Background())

	src.add(domain.Event{ActivityType: domain.ActivityAssign})
	src.add(domain.Event{ActivityType: domain.ActivityAutoClose})
	src.add(domain.Event{ActivityType: domain.ActivityClose})
	require.Equal(t, 1, d.DispatchOnce(context.Background()))
	require.Equal(t, []int64{3}, sink.got)
}

func TestWebhookSinkPostsEvent(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sinks := WebhookSinks([]config.WebhookConfig{
		{URL: srv.URL, Secret: "s3cret", Events: []string{"release"}},
		{URL: "   "},
	})
	require.Len(t, sinks, 1)
	sink := sinks[0]
	require.False(t, sink.Accepts(domain.Event{ActivityType: domain.ActivityAssign}))
	require.True(t, sink.Accepts(domain.Event{ActivityType: domain.ActivityRelease}))

	err := sink.Deliver(context.Background(), domain.Event{
		ID:           7,
		EntityType:   domain.EntityAssignment,
		EntityID:     "a1",
		ActivityType: domain.ActivityRelease,
		ActorID:      "admin",
		Payload:      `{"release_date":"2025-03-10"}`,
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "RELEASE", headers.Get("X-Staffline-Event"))
	require.Equal(t, "7", headers.Get("X-Staffline-Delivery"))
	require.Equal(t, "s3cret", headers.Get("X-Staffline-Secret"))
	require.Equal(t, "a1", body["entity_id"])
	require.Equal(t, map[string]any{"release_date": "2025-03-10"}, body["payload"])
}

func TestWebhookSinkReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	disabled := false
	require.Empty(t, WebhookSinks([]config.WebhookConfig{{URL: srv.URL, Enabled: &disabled}}))

	err := NewWebhookSink(config.WebhookConfig{URL: srv.URL}).Deliver(context.Background(), domain.Event{ID: 1, ActivityType: domain.ActivityAssign})
	require.ErrorContains(t, err, "status 502")
}

type fakeProvider struct {
	sent []sentMail
}

type sentMail struct {
	to      []string
	subject string
}

func (f *fakeProvider) Send(_ context.Context, to []string, subject, _ string) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject})
	return nil
}

type fakeDirectory struct {
	users []domain.User
	err   error
}

func (f fakeDirectory) GetUser(_ context.Context, id string) (domain.User, error) {
	if f.err != nil {
		return domain.User{}, f.err
	}
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, repo.ErrNotFound
}

func (f fakeDirectory) ListUsers(_ context.Context, userType string) ([]domain.User, error) {
	var out []domain.User
	for _, u := range f.users {
		if userType == "" || u.Type == userType {
			out = append(out, u)
		}
	}
	return out, nil
}

func TestMailSinkRoutesRequestEvents(t *testing.T) {
	dir := fakeDirectory{users: []domain.User{
		{ID: "admin", Email: "admin@example.com", Type: domain.UserTypeAdmin},
		{ID: "ops", Email: "ops@example.com", Type: domain.UserTypeAdmin},
		{ID: "dm", Email: "dm@example.com", Type: domain.UserTypeDevManager},
	}}
	provider := &fakeProvider{}
	sink := NewMailSink(provider, dir)
	ctx := context.Background()

	require.False(t, sink.Accepts(domain.Event{EntityType: domain.EntityAssignment, ActivityType: domain.ActivityAssign}))

	submitted := domain.Event{EntityType: domain.EntityRequest, EntityID: "r1", ActivityType: domain.ActivityRequest, ActorID: "dm",
		Payload: `{"request_type":"ASSIGN","requester_id":"dm"}`}
	require.True(t, sink.Accepts(submitted))
	require.NoError(t, sink.Deliver(ctx, submitted))

	approved := domain.Event{EntityType: domain.EntityRequest, EntityID: "r1", ActivityType: domain.ActivityApprove, ActorID: "admin",
		Payload: `{"request_type":"ASSIGN","requester_id":"dm"}`}
	require.NoError(t, sink.Deliver(ctx, approved))

	selfDecided := domain.Event{EntityType: domain.EntityRequest, EntityID: "r2", ActivityType: domain.ActivityReject, ActorID: "admin",
		Payload: `{"request_type":"ASSIGN","requester_id":"admin"}`}
	require.NoError(t, sink.Deliver(ctx, selfDecided))

	require.Len(t, provider.sent, 2)
	require.ElementsMatch(t, []string{"admin@example.com", "ops@example.com"}, provider.sent[0].to)
	require.Equal(t, []string{"dm@example.com"}, provider.sent[1].to)
	require.Contains(t, provider.sent[1].subject, "approve")
}

func TestMailSinkDecisionLookups(t *testing.T) {
	ctx := context.Background()
	decided := func(payload string) domain.Event {
		return domain.Event{ID: 7, EntityType: domain.EntityRequest, EntityID: "r1", ActivityType: domain.ActivityReject, ActorID: "admin", Payload: payload}
	}

	provider := &fakeProvider{}
	sink := NewMailSink(provider, fakeDirectory{})
	require.NoError(t, sink.Deliver(ctx, decided(`{"requester_id":"gone"}`)))
	require.NoError(t, sink.Deliver(ctx, decided(`{not json`)))
	require.Empty(t, provider.sent)

	failing := NewMailSink(provider, fakeDirectory{err: errors.New("database is locked")})
	err := failing.Deliver(ctx, decided(`{"requester_id":"dm"}`))
	require.ErrorContains(t, err, "database is locked")
	require.Empty(t, provider.sent)
}

func TestSMTPProviderSkipsWhenUnconfigured(t *testing.T) {
	require.NoError(t, NewSMTPProvider(config.SMTPConfig{}).Send(context.Background(), []string{"a@example.com"}, "s", "b"))
}
