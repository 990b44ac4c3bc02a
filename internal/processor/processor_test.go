package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-alert-relay/internal/dedup"
	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
	"github.com/couchcryptid/storm-alert-relay/internal/processor"
	"github.com/couchcryptid/storm-alert-relay/internal/publisher"
)

// --- mocks ---

type mockPublisher struct {
	mu         sync.Mutex
	channel    []domain.FormattedAlert
	direct     [][]domain.Subscriber
	result     publisher.Result
	delay      time.Duration
	failFirstN int
}

func (m *mockPublisher) PublishToChannel(_ context.Context, fa domain.FormattedAlert, _ domain.BotHandle) publisher.Result {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channel = append(m.channel, fa)
	if m.failFirstN > 0 {
		m.failFirstN--
		return publisher.Result{Status: publisher.StatusFailed, AlertID: fa.AlertID, Err: domain.ErrPublishFailure}
	}
	if m.result.Status != "" {
		return m.result
	}
	return publisher.Result{Success: true, Status: publisher.StatusSent, AlertID: fa.AlertID, Path: publisher.PathImage}
}

func (m *mockPublisher) PublishToUsers(_ context.Context, _ domain.FormattedAlert, subs []domain.Subscriber, _ domain.BotHandle) publisher.BulkResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct = append(m.direct, subs)
	return publisher.BulkResult{Success: true, Sent: len(subs)}
}

func (m *mockPublisher) channelCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channel)
}

type mockBot struct {
	mu        sync.Mutex
	token     string
	authCalls int
	authErr   error
}

func (b *mockBot) Authenticate(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authCalls++
	if b.authErr != nil {
		return b.authErr
	}
	b.token = "fresh-token"
	return nil
}

func (b *mockBot) AuthToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

func (b *mockBot) Username() string { return "WeatherBot" }

type staticSubscribers struct {
	subs []domain.Subscriber
	err  error
}

func (s staticSubscribers) Subscribers(context.Context) ([]domain.Subscriber, error) {
	return s.subs, s.err
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []processor.Outcome
}

func (s *recordingSink) WriteOutcome(_ context.Context, o processor.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

type failingRegistry struct{ dedup.Registry }

func (failingRegistry) Reserve(context.Context, string) (bool, error) {
	return false, errors.New("redis unavailable")
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newProcessor(pub processor.Publisher, bot domain.BotHandle, opts ...processor.Option) (*processor.Processor, *dedup.MemoryRegistry) {
	reg := dedup.NewMemoryRegistry(0, nil)
	p := processor.New(reg, processor.StaticThreshold(domain.SeverityModerate), pub, bot,
		observability.NewMetricsForTesting(), discard(), opts...)
	return p, reg
}

func alert(id string, sev domain.Severity) domain.Alert {
	return domain.Alert{
		ID:       id,
		Severity: sev,
		Sender:   "NWS Norman OK",
		Geometry: &domain.Geometry{
			Type:        "Polygon",
			Coordinates: json.RawMessage(`[[0,0],[2,0],[2,2],[0,2],[0,0]]`),
		},
		Descriptions: []domain.Description{{Language: "En", Event: "Tornado Warning"}},
	}
}

// --- tests ---

func TestProcess_PublishesOnce(t *testing.T) {
	pub := &mockPublisher{}
	p, reg := newProcessor(pub, &mockBot{token: "live"})

	out, err := p.Process(context.Background(), alert("A1", domain.SeveritySevere))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPublished, out.Status)
	assert.Equal(t, "A1", out.AlertID)
	assert.Equal(t, "Tornado Warning - Severe", out.Title)
	assert.True(t, reg.Published("A1"))

	out, err = p.Process(context.Background(), alert("A1", domain.SeveritySevere))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusAlreadyProcessed, out.Status)
	assert.ErrorIs(t, out.Err, domain.ErrDuplicateAlert)

	assert.Equal(t, 1, pub.channelCalls())
}

func TestProcess_SeverityGate(t *testing.T) {
	pub := &mockPublisher{}
	p, reg := newProcessor(pub, &mockBot{token: "live"})

	out, err := p.Process(context.Background(), alert("A1", domain.SeverityMinor))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusSkippedSeverity, out.Status)
	assert.ErrorIs(t, out.Err, domain.ErrSeverityBelowThreshold)
	assert.Zero(t, pub.channelCalls())
	assert.Zero(t, reg.Len(), "skipped alerts release their reservation")

	out, err = p.Process(context.Background(), alert("A2", domain.SeverityModerate))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPublished, out.Status)
}

func TestProcess_UnknownSeverityBelowModerate(t *testing.T) {
	pub := &mockPublisher{}
	p, _ := newProcessor(pub, &mockBot{token: "live"})

	out, err := p.Process(context.Background(), alert("A1", domain.SeverityUnknown))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusSkippedSeverity, out.Status)
	assert.Zero(t, pub.channelCalls())
}

func TestProcess_RejectsMissingID(t *testing.T) {
	pub := &mockPublisher{}
	p, _ := newProcessor(pub, &mockBot{token: "live"})

	out, err := p.Process(context.Background(), alert("", domain.SeverityExtreme))
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, processor.StatusRejected, out.Status)
	assert.Zero(t, pub.channelCalls())
}

func TestProcess_PublishFailureAllowsRetry(t *testing.T) {
	pub := &mockPublisher{failFirstN: 1}
	p, reg := newProcessor(pub, &mockBot{token: "live"})

	out, err := p.Process(context.Background(), alert("A1", domain.SeverityExtreme))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPublishFailed, out.Status)
	assert.ErrorIs(t, out.Err, domain.ErrPublishFailure)
	assert.False(t, reg.Published("A1"))

	out, err = p.Process(context.Background(), alert("A1", domain.SeverityExtreme))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPublished, out.Status)
	assert.Equal(t, 2, pub.channelCalls())
}

func TestProcess_RateLimitedCarriesRetryAfter(t *testing.T) {
	wait := 61 * time.Second
	pub := &mockPublisher{result: publisher.Result{
		Status:     publisher.StatusRateLimited,
		RetryAfter: wait,
		Err:        &domain.RateLimitError{RetryAfter: wait},
	}}
	p, reg := newProcessor(pub, &mockBot{token: "live"})

	out, err := p.Process(context.Background(), alert("A1", domain.SeverityExtreme))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPublishFailed, out.Status)
	assert.Equal(t, wait, out.RetryAfter)
	assert.ErrorIs(t, out.Err, domain.ErrRateLimited)
	assert.Zero(t, reg.Len())
}

func TestProcess_AuthenticatesBeforePublishing(t *testing.T) {
	bot := &mockBot{}
	pub := &mockPublisher{}
	p, _ := newProcessor(pub, bot)

	require.Error(t, p.CheckReadiness(context.Background()))

	out, err := p.Process(context.Background(), alert("A1", domain.SeveritySevere))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPublished, out.Status)
	assert.Equal(t, 1, bot.authCalls)
	require.NoError(t, p.CheckReadiness(context.Background()))
}

func TestProcess_AuthenticationFailure(t *testing.T) {
	bot := &mockBot{authErr: errors.New("invalid credentials")}
	pub := &mockPublisher{}
	p, reg := newProcessor(pub, bot)

	out, err := p.Process(context.Background(), alert("A1", domain.SeveritySevere))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPublishFailed, out.Status)
	assert.ErrorIs(t, out.Err, domain.ErrPublishFailure)
	assert.Zero(t, pub.channelCalls())
	assert.Zero(t, reg.Len())
}

func TestProcess_RegistryError(t *testing.T) {
	pub := &mockPublisher{}
	p := processor.New(failingRegistry{}, processor.StaticThreshold(domain.SeverityMinor), pub, &mockBot{token: "live"},
		observability.NewMetricsForTesting(), discard())

	_, err := p.Process(context.Background(), alert("A1", domain.SeveritySevere))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable")
	assert.Zero(t, pub.channelCalls())
}

func TestProcess_ConcurrentDeliveriesPublishOnce(t *testing.T) {
	pub := &mockPublisher{delay: 20 * time.Millisecond}
	p, _ := newProcessor(pub, &mockBot{token: "live"})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Process(context.Background(), alert("A1", domain.SeverityExtreme))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, pub.channelCalls())
}

func TestProcess_TargetedDistribution(t *testing.T) {
	subs := []domain.Subscriber{
		{UserID: "inside", Location: &domain.Location{Lat: 1, Lon: 1}},
		{UserID: "inside-muted", Location: &domain.Location{Lat: 1.5, Lon: 1.5},
			Preferences: domain.Preferences{MutedSenders: []string{"NWS Norman OK"}}},
		{UserID: "inside-floods-only", Location: &domain.Location{Lat: 0.5, Lon: 0.5},
			Preferences: domain.Preferences{AlertTypes: []string{"flood"}}},
		{UserID: "outside", Location: &domain.Location{Lat: 5, Lon: 5}},
		{UserID: "no-location"},
	}
	pub := &mockPublisher{}
	p, _ := newProcessor(pub, &mockBot{token: "live"},
		processor.WithSubscribers(staticSubscribers{subs: subs}, 0))

	out, err := p.Process(context.Background(), alert("A1", domain.SeveritySevere))
	require.NoError(t, err)
	require.NotNil(t, out.Distribution)
	assert.Equal(t, 1, out.Distribution.Sent)

	require.Len(t, pub.direct, 1)
	var ids []string
	for _, s := range pub.direct[0] {
		ids = append(ids, s.UserID)
	}
	assert.Equal(t, []string{"inside"}, ids)
}

func TestProcess_SubscriberSourceErrorStillPublishes(t *testing.T) {
	pub := &mockPublisher{}
	p, _ := newProcessor(pub, &mockBot{token: "live"},
		processor.WithSubscribers(staticSubscribers{err: errors.New("file missing")}, 0))

	out, err := p.Process(context.Background(), alert("A1", domain.SeveritySevere))
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPublished, out.Status)
	assert.Nil(t, out.Distribution)
	assert.Empty(t, pub.direct)
}

func TestProcess_WritesOutcomes(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	p, _ := newProcessor(&mockPublisher{}, &mockBot{token: "live"},
		processor.WithOutcomeSink(sink), processor.WithClock(clock))

	_, _ = p.Process(context.Background(), alert("A1", domain.SeveritySevere))
	_, _ = p.Process(context.Background(), alert("A1", domain.SeveritySevere))
	_, _ = p.Process(context.Background(), alert("A2", domain.SeverityMinor))

	got := make([]processor.Status, 0, len(sink.outcomes))
	for _, o := range sink.outcomes {
		got = append(got, o.Status)
		assert.Equal(t, clock.Now(), o.ProcessedAt)
	}
	want := []processor.Status{
		processor.StatusPublished,
		processor.StatusAlreadyProcessed,
		processor.StatusSkippedSeverity,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outcome statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessBatch_DoesNotShortCircuit(t *testing.T) {
	pub := &mockPublisher{failFirstN: 1}
	p, _ := newProcessor(pub, &mockBot{token: "live"})

	sum := p.ProcessBatch(context.Background(), []domain.Alert{
		alert("A1", domain.SeverityExtreme), // publish fails
		alert("A2", domain.SeveritySevere),
		alert("A2", domain.SeveritySevere), // duplicate
		alert("A3", domain.SeverityMinor),  // below threshold
		alert("", domain.SeverityExtreme),  // rejected
		alert("A4", domain.SeverityModerate),
	})

	assert.Equal(t, 6, sum.Total)
	assert.Equal(t, 2, sum.Published)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 2, sum.Failed)
	require.Len(t, sum.Outcomes, 6)
	assert.Equal(t, processor.StatusRejected, sum.Outcomes[4].Status)
}
