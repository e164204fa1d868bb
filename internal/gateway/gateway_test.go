package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/policy"
	"github.com/raphaelgruber/policy-debate/internal/session"
)

var waterAct = debate.Policy{
	ID:    "water-act",
	Title: "Water Act",
	Text:  "Allocates river water between farms and cities.",
	Stakeholders: []debate.StakeholderProfile{
		{Name: "Farmers Union", Stance: "oppose"},
		{Name: "City Council", Stance: "support"},
	},
	Topics: []debate.TopicDraft{{Title: "Allocation", Priority: 1}},
}

type instantGenerator struct{}

func (instantGenerator) GenerateArgument(_ context.Context, req debate.ArgumentRequest) (string, error) {
	return fmt.Sprintf("%s makes a %s", req.Speaker.DisplayName, req.Type), nil
}

func (instantGenerator) GenerateConclusion(context.Context, debate.ConclusionRequest) (string, error) {
	return "done", nil
}

// gatedGenerator blocks argument calls until release is closed.
type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{started: make(chan struct{}, 32), release: make(chan struct{})}
}

func (g *gatedGenerator) GenerateArgument(ctx context.Context, req debate.ArgumentRequest) (string, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return req.Speaker.DisplayName + " argues", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedGenerator) GenerateConclusion(context.Context, debate.ConclusionRequest) (string, error) {
	return "done", nil
}

type testEnv struct {
	manager *session.Manager
	server  *httptest.Server
}

func newTestEnv(t *testing.T, gen debate.Generator) *testEnv {
	t.Helper()
	m, err := session.NewManager(session.Dependencies{
		Policies:  policy.NewMemory(waterAct),
		Generator: gen,
	})
	require.NoError(t, err)

	h := New(m, nil, WithPingInterval(time.Second))
	mux := http.NewServeMux()
	mux.Handle("GET /sessions/{id}/stream", h)
	mux.Handle("GET /ws", h)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return &testEnv{manager: m, server: srv}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (Frame, error) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f Frame
	err := conn.ReadJSON(&f)
	return f, err
}

// readUntil reads frames until match returns true and returns every frame read.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Frame) bool) []Frame {
	t.Helper()
	var frames []Frame
	for {
		f, err := readFrame(t, conn)
		require.NoError(t, err, "frames so far: %+v", frames)
		frames = append(frames, f)
		if match(f) {
			return frames
		}
	}
}

// readToClose reads frames until the server closes the connection.
func readToClose(t *testing.T, conn *websocket.Conn) ([]Frame, int) {
	t.Helper()
	var frames []Frame
	for {
		f, err := readFrame(t, conn)
		if err != nil {
			var ce *websocket.CloseError
			require.True(t, errors.As(err, &ce), "expected close, got %v", err)
			return frames, ce.Code
		}
		frames = append(frames, f)
	}
}

func waitDone(t *testing.T, d *session.Driver) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestStreamBackfillAfterLastSeen(t *testing.T) {
	env := newTestEnv(t, instantGenerator{})
	d, err := env.manager.Create(context.Background(), session.CreateRequest{PolicyID: "water-act"})
	require.NoError(t, err)
	waitDone(t, d)

	conn := env.dial(t, "/sessions/"+d.ID()+"/stream?last_seen=2")
	frames, code := readToClose(t, conn)

	assert.Equal(t, websocket.CloseNormalClosure, code)
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, "debate_message", f.Type)
		assert.Equal(t, int64(i+3), f.Sequence)
	}
	assert.Equal(t, debate.MessageConclusion, frames[4].MessageType)
}

func TestStreamQueryParamRoute(t *testing.T) {
	env := newTestEnv(t, instantGenerator{})
	d, err := env.manager.Create(context.Background(), session.CreateRequest{PolicyID: "water-act"})
	require.NoError(t, err)
	waitDone(t, d)

	conn := env.dial(t, "/ws?session_id="+d.ID())
	frames, _ := readToClose(t, conn)
	require.Len(t, frames, 7)
	assert.Equal(t, debate.MessageIntro, frames[0].MessageType)
}

func TestStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t, instantGenerator{})
	conn := env.dial(t, "/sessions/nope/stream")

	frames, code := readToClose(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0].Type)
	assert.Equal(t, debate.CodeNotFound, frames[0].Code)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
}

func TestStreamRejectsBadLastSeen(t *testing.T) {
	env := newTestEnv(t, instantGenerator{})
	resp, err := http.Get(env.server.URL + "/sessions/x/stream?last_seen=-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamLiveEndDebate(t *testing.T) {
	gen := newGatedGenerator()
	env := newTestEnv(t, gen)
	d, err := env.manager.Create(context.Background(), session.CreateRequest{PolicyID: "water-act"})
	require.NoError(t, err)
	<-gen.started

	conn := env.dial(t, "/sessions/"+d.ID()+"/stream?client_id=alice")
	intro, err := readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, debate.MessageIntro, intro.MessageType)
	assert.Equal(t, int64(1), intro.Sequence)

	require.NoError(t, conn.WriteJSON(CommandFrame{Type: debate.CommandEnd}))
	frames := readUntil(t, conn, func(f Frame) bool {
		return f.Type == "status" && f.Message == debate.StatusTerminated
	})
	var sawTerminated bool
	for _, f := range frames {
		if f.MessageType == debate.MessageStatus && f.Content == debate.StatusTerminatedEarly {
			sawTerminated = true
			assert.Equal(t, int64(2), f.Sequence)
		}
	}
	assert.True(t, sawTerminated, "terminated_early message in %+v", frames)

	close(gen.release)
	rest, code := readToClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, code)

	var late *Frame
	for i := range rest {
		if rest[i].MessageType == debate.MessageClaim {
			late = &rest[i]
		}
	}
	require.NotNil(t, late, "late claim in %+v", rest)
	require.NotNil(t, late.Metadata)
	assert.True(t, late.Metadata.PostTermination)
	assert.Equal(t, int64(3), late.Sequence)
}

func TestStreamErrorsGoToTheSenderOnly(t *testing.T) {
	gen := newGatedGenerator()
	env := newTestEnv(t, gen)
	d, err := env.manager.Create(context.Background(), session.CreateRequest{PolicyID: "water-act"})
	require.NoError(t, err)
	<-gen.started

	alice := env.dial(t, "/sessions/"+d.ID()+"/stream?client_id=alice")
	bob := env.dial(t, "/sessions/"+d.ID()+"/stream?client_id=bob")

	// Malformed frames never reach the session and never make bob controller.
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"shout"}`)))
	bobFrames := readUntil(t, bob, func(f Frame) bool { return f.Type == "error" })
	assert.Equal(t, debate.CodeProtocol, bobFrames[len(bobFrames)-1].Code)

	require.NoError(t, alice.WriteJSON(CommandFrame{Type: debate.CommandPause}))
	require.Eventually(t, func() bool { return d.Controller() == "alice" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, bob.WriteJSON(CommandFrame{Type: debate.CommandEnd}))
	bobFrames = readUntil(t, bob, func(f Frame) bool { return f.Type == "error" })
	assert.Equal(t, debate.CodeNotController, bobFrames[len(bobFrames)-1].Code)
	assert.Equal(t, 1, d.Log().Len(), "bob's end_debate must be ignored")

	require.NoError(t, alice.WriteJSON(CommandFrame{Type: debate.CommandEnd}))
	close(gen.release)

	aliceFrames, _ := readToClose(t, alice)
	for _, f := range aliceFrames {
		assert.NotEqual(t, "error", f.Type, "alice must not see bob's errors: %+v", f)
	}
	assert.Equal(t, debate.StateTerminated, d.Snapshot().State)
}
