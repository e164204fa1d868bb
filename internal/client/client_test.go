package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/gateway"
	"github.com/raphaelgruber/policy-debate/internal/metrics"
	"github.com/raphaelgruber/policy-debate/internal/policy"
	"github.com/raphaelgruber/policy-debate/internal/server"
	"github.com/raphaelgruber/policy-debate/internal/session"
)

const waterActMarkdown = `---
id: water-act
stakeholders:
  - name: Farmers Union
    stance: oppose
  - name: City Council
    stance: support
topics:
  - title: Allocation
    priority: 1
---
# Water Act

Allocates river water between farms and cities.
`

type instantGenerator struct{}

func (instantGenerator) GenerateArgument(_ context.Context, req debate.ArgumentRequest) (string, error) {
	return fmt.Sprintf("%s makes a %s", req.Speaker.DisplayName, req.Type), nil
}

func (instantGenerator) GenerateConclusion(context.Context, debate.ConclusionRequest) (string, error) {
	return "Both sides want reliable water.", nil
}

type blockingGenerator struct{}

func (blockingGenerator) GenerateArgument(ctx context.Context, _ debate.ArgumentRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingGenerator) GenerateConclusion(context.Context, debate.ConclusionRequest) (string, error) {
	return "", nil
}

func newTestClient(t *testing.T, gen debate.Generator) *Client {
	t.Helper()
	catalog := policy.NewCatalog(policy.NewMemory())
	_, err := catalog.Import(context.Background(), "water-act.md", waterActMarkdown)
	require.NoError(t, err)

	collector := metrics.NewCollector()
	m, err := session.NewManager(session.Dependencies{
		Policies:  catalog,
		Generator: gen,
		Metrics:   collector,
	})
	require.NoError(t, err)

	srv := server.New(server.Options{
		Version:  "test",
		Manager:  m,
		Policies: catalog,
		Metrics:  collector,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return New(ts.URL).WithClientID("alice")
}

func ptr[T any](v T) *T { return &v }

var oneRound = server.ConfigOverrides{
	MaxRoundsPerTopic: ptr(1),
	GenerationTimeout: server.Duration(time.Second).Ptr(),
}

// collect drains a stream until it closes.
func collect(t *testing.T, s *Stream) []gateway.Frame {
	t.Helper()
	var frames []gateway.Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-s.Frames:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-timeout:
			t.Fatalf("stream did not close, frames so far: %+v", frames)
		}
	}
}

func messageSequences(frames []gateway.Frame) []int64 {
	var seqs []int64
	for _, f := range frames {
		if f.Type == string(debate.EventMessage) {
			seqs = append(seqs, f.Sequence)
		}
	}
	return seqs
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("DEBATE_SERVER_URL", "")
	t.Setenv("DEBATE_CLIENT_ID", "")
	c := New("")
	assert.Equal(t, "http://localhost:8080", c.baseURL)
	assert.NotEmpty(t, c.ClientID())

	t.Setenv("DEBATE_SERVER_URL", "http://debate.internal:9000/")
	t.Setenv("DEBATE_CLIENT_ID", "ops")
	t.Setenv("DEBATE_CLIENT_TIMEOUT", "5s")
	c = New("")
	assert.Equal(t, "http://debate.internal:9000", c.baseURL)
	assert.Equal(t, "ops", c.ClientID())
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}

func TestSessionRoundTrip(t *testing.T) {
	c := newTestClient(t, instantGenerator{})
	ctx := context.Background()

	created, err := c.CreateSession(ctx, "water-act", oneRound)
	require.NoError(t, err)
	id := created.SessionID

	stream, err := c.Watch(ctx, id, 0)
	require.NoError(t, err)
	frames := collect(t, stream)
	require.NoError(t, stream.Err())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, messageSequences(frames))
	assert.Equal(t, int64(5), stream.LastSeen())

	snap, err := c.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, debate.StateCompleted, snap.State)

	msgs, err := c.Messages(ctx, id, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id, msgs[1].SessionID)
	assert.Equal(t, debate.MessageConclusion, msgs[1].Type)

	transcript, err := c.Transcript(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, transcript, "Both sides want reliable water.")

	list, err := c.ListSessions(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.DeleteSession(ctx, id, false))
	_, err = c.GetSession(ctx, id)
	assert.ErrorIs(t, err, debate.ErrNotFound)
}

func TestWatchReplaysAfterLastSeen(t *testing.T) {
	c := newTestClient(t, instantGenerator{})
	ctx := context.Background()

	created, err := c.CreateSession(ctx, "water-act", oneRound)
	require.NoError(t, err)

	first, err := c.Watch(ctx, created.SessionID, 0)
	require.NoError(t, err)
	collect(t, first)

	again, err := c.Watch(ctx, created.SessionID, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, messageSequences(collect(t, again)))
}

func TestWatchUnknownSession(t *testing.T) {
	c := newTestClient(t, instantGenerator{})

	stream, err := c.Watch(context.Background(), "missing", 0)
	require.NoError(t, err)
	collect(t, stream)
	assert.ErrorIs(t, stream.Err(), debate.ErrNotFound)
}

func TestCommandsAndControl(t *testing.T) {
	c := newTestClient(t, blockingGenerator{})
	ctx := context.Background()

	created, err := c.CreateSession(ctx, "water-act", oneRound)
	require.NoError(t, err)
	id := created.SessionID

	stream, err := c.Watch(ctx, id, 0)
	require.NoError(t, err)

	require.NoError(t, c.Pause(ctx, id))

	err = c.WithClientID("bob").Resume(ctx, id)
	assert.ErrorIs(t, err, session.ErrNotController)
	assert.ErrorIs(t, err, debate.ErrState)

	err = c.Say(ctx, id, "")
	assert.ErrorIs(t, err, debate.ErrProtocol)

	require.NoError(t, stream.Send(gateway.CommandFrame{Type: debate.CommandEnd}))

	frames := collect(t, stream)
	require.NoError(t, stream.Err())
	var statuses []string
	for _, f := range frames {
		if f.Type == string(debate.EventStatus) {
			statuses = append(statuses, f.Message)
		}
	}
	assert.Contains(t, statuses, debate.StatusTerminated)

	require.NoError(t, c.End(ctx, id), "ending a finished session is a no-op")
	snap, err := c.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, debate.StateTerminated, snap.State)
}

func TestPolicies(t *testing.T) {
	c := newTestClient(t, instantGenerator{})
	ctx := context.Background()

	summary, err := c.ImportPolicy(ctx, "Housing Bill.md", "# Housing Bill\n\nBuilds homes.\n")
	require.NoError(t, err)
	assert.Equal(t, "housing-bill", summary.ID)

	list, err := c.ListPolicies(ctx)
	require.NoError(t, err)
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"housing-bill", "water-act"}, ids)

	require.NoError(t, c.DeletePolicy(ctx, "housing-bill"))
	assert.ErrorIs(t, c.DeletePolicy(ctx, "housing-bill"), debate.ErrNotFound)

	_, err = c.ImportPolicy(ctx, "blank.md", "")
	assert.ErrorIs(t, err, debate.ErrConfiguration)
}

func TestStatsAndHealth(t *testing.T) {
	c := newTestClient(t, instantGenerator{})
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", stats.Version)
	assert.Equal(t, 0, stats.ActiveSessions)
}
