package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/tool"
)

// fakeConn scripts inbound frames and records outbound ones.
type fakeConn struct {
	inbound  []string
	outbound []string
	writeErr error
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	if len(c.inbound) == 0 {
		return 0, nil, io.EOF
	}
	msg := c.inbound[0]
	c.inbound = c.inbound[1:]
	return websocket.TextMessage, []byte(msg), nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.outbound = append(c.outbound, string(data))
	return nil
}

func (c *fakeConn) all() string { return strings.Join(c.outbound, "") }

type fakeChatStore struct {
	session   *session.Session
	getErr    error
	created   bool
	status    string
	logs      []session.LogEntry
	appendErr error
	// fails only appends that carry metadata
	metadataAppendErr error
}

func (s *fakeChatStore) GetBySessionID(context.Context, string) (*session.Session, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.session == nil {
		return nil, session.ErrSessionNotFound
	}
	return s.session, nil
}

func (s *fakeChatStore) Create(_ context.Context, sessionID, userID string) (*session.Session, error) {
	s.created = true
	s.session = &session.Session{SessionID: sessionID, UserID: userID, Status: session.StatusActive}
	return s.session, nil
}

func (s *fakeChatStore) SetStatus(_ context.Context, _, status string) error {
	s.status = status
	return nil
}

func (s *fakeChatStore) AppendLog(_ context.Context, sessionID, eventType, message string, metadata *session.LogMetadata) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	if metadata != nil && s.metadataAppendErr != nil {
		return s.metadataAppendErr
	}
	s.logs = append(s.logs, session.LogEntry{
		SessionID: sessionID,
		EventType: eventType,
		Message:   message,
		Metadata:  metadata,
	})
	return nil
}

func (s *fakeChatStore) RecentLogs(_ context.Context, _ string, limit int) ([]session.LogEntry, error) {
	logs := s.logs
	if len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}

// tool.Store methods, for turns exercising the real registry.

func (s *fakeChatStore) ListLogs(context.Context, string) ([]session.LogEntry, error) {
	return s.logs, nil
}

func (s *fakeChatStore) RecentSessions(context.Context, int) ([]*session.Session, error) {
	if s.session == nil {
		return nil, nil
	}
	return []*session.Session{s.session}, nil
}

type fakeStreamer struct {
	fragments []string
	err       error
	gotMsgs   []*ai.Message
}

func (f *fakeStreamer) Stream(ctx context.Context, msgs []*ai.Message, fn engine.StreamFunc) (string, error) {
	f.gotMsgs = msgs
	if f.err != nil {
		return "", f.err
	}
	var full strings.Builder
	for _, frag := range f.fragments {
		if err := fn(ctx, frag); err != nil {
			return "", err
		}
		full.WriteString(frag)
	}
	return full.String(), nil
}

type fakeTools struct {
	payload tool.Payload
	called  tool.Name
}

func (f *fakeTools) Execute(_ context.Context, name tool.Name, _ tool.Params) tool.Payload {
	f.called = name
	return f.payload
}

type fakeFinalizer struct {
	finalized []string
}

func (f *fakeFinalizer) Finalize(_ context.Context, sessionID string) {
	f.finalized = append(f.finalized, sessionID)
}

func newController(store Store, streamer Streamer, tools ToolRunner, fin Finalizer) *Controller {
	return NewController(store, streamer, tools, fin, log.NewNop())
}

func TestServe_PlainTurn(t *testing.T) {
	store := &fakeChatStore{}
	streamer := &fakeStreamer{fragments: []string{"Hello", " there"}}
	fin := &fakeFinalizer{}
	conn := &fakeConn{inbound: []string{"hi"}}

	newController(store, streamer, &fakeTools{}, fin).Serve(context.Background(), conn, "s1", "u1")

	assert.True(t, store.created)
	out := conn.all()
	assert.Contains(t, out, "[💬 Chat Mode]\n")
	assert.Contains(t, out, "Hello there")
	assert.NotContains(t, out, "Fetching data")

	// user turn and assistant response both persisted
	require.Len(t, store.logs, 2)
	assert.Equal(t, session.EventUser, store.logs[0].EventType)
	assert.Equal(t, session.EventAI, store.logs[1].EventType)
	require.NotNil(t, store.logs[1].Metadata)
	assert.Equal(t, "casual_chat", store.logs[1].Metadata.Intent)
	assert.Empty(t, store.logs[1].Metadata.ToolUsed)

	// finalized exactly once on disconnect
	assert.Equal(t, []string{"s1"}, fin.finalized)
}

// A turn against the real registry: the stats tool sees the session as
// it was before the in-flight question was persisted.
func TestServe_StatsToolTurn(t *testing.T) {
	store := &fakeChatStore{
		session: &session.Session{
			SessionID: "s1",
			Status:    session.StatusActive,
			StartTime: time.Now().Add(-time.Minute),
		},
		logs: []session.LogEntry{
			{EventType: session.EventUser, Message: "hi"},
			{EventType: session.EventAI, Message: "hello"},
		},
	}
	streamer := &fakeStreamer{fragments: []string{"You sent 1 message."}}
	registry := tool.NewRegistry(store, log.NewNop())
	conn := &fakeConn{inbound: []string{"how many messages have I sent?"}}

	newController(store, streamer, registry, &fakeFinalizer{}).Serve(context.Background(), conn, "s1", "u1")

	out := conn.all()
	assert.Contains(t, out, "🔍 Fetching data using get_session_stats...\n")
	assert.Contains(t, out, "✅ Data retrieved successfully!\n\n")

	// the tool payload is folded into the final user message and
	// counts only the pre-turn log
	final := streamer.gotMsgs[len(streamer.gotMsgs)-1].Content[0].Text
	assert.Contains(t, final, "User query: how many messages have I sent?")
	assert.Contains(t, final, `"total_messages": 2`)
	assert.Contains(t, final, `"user_messages": 1`)
	assert.Contains(t, final, `"ai_messages": 1`)

	// tool use recorded in response metadata
	last := store.logs[len(store.logs)-1]
	require.NotNil(t, last.Metadata)
	assert.Equal(t, "get_session_stats", last.Metadata.ToolUsed)
}

func TestServe_HistoryEntersContextOnce(t *testing.T) {
	store := &fakeChatStore{
		session: &session.Session{SessionID: "s1", Status: session.StatusCompleted},
		logs: []session.LogEntry{
			{EventType: session.EventUser, Message: "earlier question"},
			{EventType: session.EventAI, Message: "earlier answer"},
		},
	}
	streamer := &fakeStreamer{fragments: []string{"ok"}}
	conn := &fakeConn{inbound: []string{"new question"}}

	newController(store, streamer, &fakeTools{}, &fakeFinalizer{}).Serve(context.Background(), conn, "s1", "u1")

	// reconnect reactivates the session
	assert.Equal(t, session.StatusActive, store.status)

	// system + two history entries + current turn, no duplicate
	require.Len(t, streamer.gotMsgs, 4)
	assert.Equal(t, "earlier question", streamer.gotMsgs[1].Content[0].Text)
	assert.Equal(t, "earlier answer", streamer.gotMsgs[2].Content[0].Text)
	assert.Equal(t, "new question", streamer.gotMsgs[3].Content[0].Text)
}

func TestServe_InitFailure(t *testing.T) {
	store := &fakeChatStore{getErr: errors.New("connection refused")}
	fin := &fakeFinalizer{}
	conn := &fakeConn{inbound: []string{"hi"}}

	newController(store, &fakeStreamer{}, &fakeTools{}, fin).Serve(context.Background(), conn, "s1", "u1")

	assert.Equal(t, []string{"Error: Could not initialize session."}, conn.outbound)
	// no finalization for a session that never initialized
	assert.Empty(t, fin.finalized)
}

func TestServe_GenerationFailureKeepsConnection(t *testing.T) {
	store := &fakeChatStore{}
	streamer := &fakeStreamer{err: errors.New("model unavailable")}
	conn := &fakeConn{inbound: []string{"first", "second"}}

	newController(store, streamer, &fakeTools{}, &fakeFinalizer{}).Serve(context.Background(), conn, "s1", "u1")

	out := conn.all()
	// both turns were attempted; errors reported in-band
	assert.Equal(t, 2, strings.Count(out, "Error: model unavailable"))

	// no assistant entries persisted for failed generations
	for _, entry := range store.logs {
		assert.Equal(t, session.EventUser, entry.EventType)
	}
}

func TestServe_MetadataRetry(t *testing.T) {
	store := &fakeChatStore{metadataAppendErr: errors.New("column does not exist")}
	streamer := &fakeStreamer{fragments: []string{"answer"}}
	conn := &fakeConn{inbound: []string{"hi"}}

	newController(store, streamer, &fakeTools{}, &fakeFinalizer{}).Serve(context.Background(), conn, "s1", "u1")

	require.Len(t, store.logs, 2)
	assert.Equal(t, session.EventAI, store.logs[1].EventType)
	assert.Nil(t, store.logs[1].Metadata)
}
