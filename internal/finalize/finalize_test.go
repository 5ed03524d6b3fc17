package finalize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

type fakeStore struct {
	logs    []session.LogEntry
	logsErr error

	committed    *session.Summary
	commitErr    error
	updated      *session.Summary
	errorsClosed bool
}

func (f *fakeStore) ListLogs(context.Context, string) ([]session.LogEntry, error) {
	return f.logs, f.logsErr
}

func (f *fakeStore) CommitSummary(_ context.Context, _ string, sum session.Summary, _ time.Time) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = &sum
	return nil
}

func (f *fakeStore) UpdateSummaryFields(_ context.Context, _ string, sum session.Summary) error {
	f.updated = &sum
	return nil
}

func (f *fakeStore) FinalizeWithErrors(context.Context, string, time.Time) error {
	f.errorsClosed = true
	return nil
}

type fakeGenerator struct {
	response string
	err      error
	prompt   string
}

func (f *fakeGenerator) Invoke(_ context.Context, msgs []*ai.Message) (string, error) {
	if len(msgs) > 0 && len(msgs[0].Content) > 0 {
		f.prompt = msgs[0].Content[0].Text
	}
	return f.response, f.err
}

func sampleLogs() []session.LogEntry {
	return []session.LogEntry{
		{EventType: session.EventUser, Message: "teach me about channels"},
		{EventType: session.EventAI, Message: "channels are typed conduits for goroutines"},
		{EventType: session.EventUser, Message: "thanks"},
	}
}

func TestSummarize(t *testing.T) {
	gen := &fakeGenerator{response: `{
		"summary": "Discussed Go channels.",
		"topics": ["Channels", "Goroutines"],
		"sentiment": "positive",
		"key_outcomes": "User learned channel basics."
	}`}
	f := New(&fakeStore{logs: sampleLogs()}, gen, log.NewNop())

	sum, err := f.Summarize(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, "Discussed Go channels.", sum.Summary)
	assert.Equal(t, []string{"Channels", "Goroutines"}, sum.Topics)
	assert.Equal(t, session.SentimentPositive, sum.Sentiment)
	assert.Equal(t, "User learned channel basics.", sum.KeyOutcomes)

	// Metrics are counted locally, not taken from the model.
	assert.Equal(t, 3, sum.Metrics.TotalMessages)
	assert.Equal(t, 2, sum.Metrics.UserMessages)
	assert.Equal(t, 1, sum.Metrics.AIMessages)
	assert.Equal(t, 5, sum.Metrics.TotalUserWords)
	assert.Equal(t, 6, sum.Metrics.TotalAIWords)

	// The transcript reaches the model in speaker-prefixed form.
	assert.Contains(t, gen.prompt, "User: teach me about channels")
	assert.Contains(t, gen.prompt, "AI: channels are typed conduits")
}

func TestSummarize_EmptySession(t *testing.T) {
	f := New(&fakeStore{}, &fakeGenerator{}, log.NewNop())

	sum, err := f.Summarize(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "No messages in session", sum.Summary)
	assert.Empty(t, sum.Topics)
	assert.Equal(t, session.SentimentNeutral, sum.Sentiment)
	assert.Equal(t, session.Metrics{}, sum.Metrics)
}

func TestSummarize_MalformedResponseDegrades(t *testing.T) {
	long := strings.Repeat("x", 300)
	gen := &fakeGenerator{response: "Sure! Here is the summary: " + long}
	f := New(&fakeStore{logs: sampleLogs()}, gen, log.NewNop())

	sum, err := f.Summarize(context.Background(), "s1")
	require.NoError(t, err)

	assert.Len(t, sum.Summary, degradedSummaryLen)
	assert.Equal(t, []string{"General conversation"}, sum.Topics)
	assert.Equal(t, session.SentimentNeutral, sum.Sentiment)
	assert.Equal(t, "Session completed", sum.KeyOutcomes)
	assert.Equal(t, 3, sum.Metrics.TotalMessages)
}

func TestFinalize_Commits(t *testing.T) {
	store := &fakeStore{logs: sampleLogs()}
	gen := &fakeGenerator{response: `{"summary":"ok","topics":[],"sentiment":"neutral","key_outcomes":"done"}`}

	New(store, gen, log.NewNop()).Finalize(context.Background(), "s1")

	require.NotNil(t, store.committed)
	assert.Equal(t, "ok", store.committed.Summary)
	assert.False(t, store.errorsClosed)
}

func TestFinalize_GenerationFailureClosesWithErrors(t *testing.T) {
	store := &fakeStore{logs: sampleLogs()}
	gen := &fakeGenerator{err: errors.New("model unavailable")}

	New(store, gen, log.NewNop()).Finalize(context.Background(), "s1")

	assert.Nil(t, store.committed)
	assert.True(t, store.errorsClosed)
}

func TestFinalize_CommitFailureClosesWithErrors(t *testing.T) {
	store := &fakeStore{logs: sampleLogs(), commitErr: errors.New("connection reset")}
	gen := &fakeGenerator{response: `{"summary":"ok"}`}

	New(store, gen, log.NewNop()).Finalize(context.Background(), "s1")

	assert.Nil(t, store.committed)
	assert.True(t, store.errorsClosed)
}

func TestRegenerate(t *testing.T) {
	store := &fakeStore{logs: sampleLogs()}
	gen := &fakeGenerator{response: `{"summary":"regenerated","topics":["Go"],"sentiment":"positive","key_outcomes":"done"}`}

	sum, err := New(store, gen, log.NewNop()).Regenerate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "regenerated", sum.Summary)

	require.NotNil(t, store.updated)
	assert.Equal(t, "regenerated", store.updated.Summary)
	assert.False(t, store.errorsClosed)
}
