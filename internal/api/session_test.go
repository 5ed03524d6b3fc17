package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

type fakeReader struct {
	session   *fakeSession
	sessions  []*session.Session
	rating    int
	ratingErr error
	pingErr   error
}

type fakeSession = session.Session

func (f *fakeReader) GetBySessionID(context.Context, string) (*session.Session, error) {
	if f.session == nil {
		return nil, session.ErrSessionNotFound
	}
	return f.session, nil
}

func (f *fakeReader) RecentSessions(context.Context, int) ([]*session.Session, error) {
	return f.sessions, nil
}

func (f *fakeReader) SetRating(_ context.Context, _ string, rating int, _ time.Time) error {
	if f.ratingErr != nil {
		return f.ratingErr
	}
	f.rating = rating
	return nil
}

func (f *fakeReader) Ping(context.Context) error { return f.pingErr }

type fakeRegenerator struct {
	sum session.Summary
	err error
}

func (f *fakeRegenerator) Regenerate(context.Context, string) (session.Summary, error) {
	return f.sum, f.err
}

type noopChat struct{}

func (noopChat) Serve(context.Context, chat.Conn, string, string) {}

func newTestServer(t *testing.T, store SessionReader, regen SummaryRegenerator) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Logger:      log.NewNop(),
		Store:       store,
		Regenerator: regen,
		Chat:        noopChat{},
		ModelName:   "googleai/gemini-2.5-flash",
	})
	require.NoError(t, err)
	return srv.Handler()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetSummary(t *testing.T) {
	endTime := time.Now().UTC()
	store := &fakeReader{session: &fakeSession{
		SessionID:   "s1",
		Status:      session.StatusCompleted,
		StartTime:   endTime.Add(-5 * time.Minute),
		EndTime:     &endTime,
		Summary:     "Discussed Go channels.",
		Topics:      `["Channels"]`,
		Sentiment:   session.SentimentPositive,
		Metrics:     `{"total_messages":4}`,
		KeyOutcomes: "Learned channel basics.",
	}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/session/s1/summary", nil)
	newTestServer(t, store, &fakeRegenerator{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, []any{"Channels"}, body["topics"])
	assert.Equal(t, "Learned channel basics.", body["key_outcomes"])

	metrics := body["metrics"].(map[string]any)
	assert.Equal(t, float64(4), metrics["total_messages"])
}

func TestGetSummary_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/session/missing/summary", nil)
	newTestServer(t, &fakeReader{}, &fakeRegenerator{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found", decodeBody(t, rec)["error"])
}

func TestListSessions(t *testing.T) {
	long := strings.Repeat("a", 150)
	store := &fakeReader{sessions: []*session.Session{
		{SessionID: "s1", Status: session.StatusCompleted, Summary: long,
			Metrics: `{"total_messages":7}`, Topics: `["Go"]`},
		{SessionID: "s2", Status: session.StatusActive},
	}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	newTestServer(t, store, &fakeRegenerator{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])

	entries := body["sessions"].([]any)
	first := entries[0].(map[string]any)
	assert.Equal(t, strings.Repeat("a", 100)+"...", first["summary"])
	assert.Equal(t, float64(7), first["message_count"])

	// sessions without a summary report null, not an empty string
	second := entries[1].(map[string]any)
	assert.Nil(t, second["summary"])
}

func TestRate(t *testing.T) {
	t.Run("valid rating", func(t *testing.T) {
		store := &fakeReader{}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/session/s1/rate",
			strings.NewReader(`{"rating":4}`))
		newTestServer(t, store, &fakeRegenerator{}).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(4), body["rating"])
		assert.Equal(t, "Thank you for your feedback!", body["message"])
		assert.Equal(t, 4, store.rating)
	})

	t.Run("out of range", func(t *testing.T) {
		store := &fakeReader{ratingErr: session.ErrInvalidRating}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/session/s1/rate",
			strings.NewReader(`{"rating":9}`))
		newTestServer(t, store, &fakeRegenerator{}).ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Rating must be between 1 and 5", decodeBody(t, rec)["error"])
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/session/s1/rate",
			strings.NewReader(`{`))
		newTestServer(t, &fakeReader{}, &fakeRegenerator{}).ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRegenerateSummary(t *testing.T) {
	store := &fakeReader{session: &fakeSession{SessionID: "s1"}}
	regen := &fakeRegenerator{sum: session.Summary{
		Summary:   "Fresh analysis.",
		Topics:    []string{"Go"},
		Sentiment: session.SentimentNeutral,
	}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/session/s1/regenerate-summary", nil)
	newTestServer(t, store, regen).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])

	sum := body["summary"].(map[string]any)
	assert.Equal(t, "Fresh analysis.", sum["summary"])
}

func TestRegenerateSummary_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/session/missing/regenerate-summary", nil)
	newTestServer(t, &fakeReader{}, &fakeRegenerator{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found", decodeBody(t, rec)["error"])
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		newTestServer(t, &fakeReader{}, &fakeRegenerator{}).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "running", body["status"])
		assert.Equal(t, "healthy", body["database"])
		assert.Equal(t, "googleai/gemini-2.5-flash", body["model"])
	})

	t.Run("database down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		newTestServer(t, &fakeReader{pingErr: assert.AnError}, &fakeRegenerator{}).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["database"], "unhealthy")
	})
}
