package stores

import (
	"context"
	"testing"
	"time"

	"github.com/Desarso/tabchat/completion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTraceStore(t *testing.T) *GORMTraceStore {
	t.Helper()
	ts, err := NewGORMTraceStore(newTestStore(t).DB())
	require.NoError(t, err)
	return ts
}

func TestGORMTraceStore_RecordAndFetch(t *testing.T) {
	ts := newTestTraceStore(t)
	ctx := context.Background()
	started := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	var tracer completion.Tracer = ts
	require.NoError(t, tracer.RecordTrace(ctx, completion.Trace{
		RequestID:      "r1",
		ConversationID: "c1",
		TabID:          "tab",
		Provider:       "anthropic",
		Model:          "claude",
		Outcome:        completion.OutcomeCompleted,
		StartedAt:      started,
		Duration:       1500 * time.Millisecond,
		RawResponse:    []byte(`{"id":"msg_1"}`),
	}))
	require.NoError(t, ts.RecordTrace(ctx, completion.Trace{
		RequestID:      "r2",
		ConversationID: "c1",
		Outcome:        completion.OutcomeFailed,
		Error:          "boom",
		StartedAt:      started.Add(time.Minute),
	}))

	traces, err := ts.TracesByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "r1", traces[0].RequestID)
	assert.Equal(t, int64(1500), traces[0].DurationMS)
	assert.JSONEq(t, `{"id":"msg_1"}`, string(traces[0].RawResponse))
	assert.Equal(t, "failed", traces[1].Outcome)
	assert.Empty(t, traces[1].RawResponse)

	one, err := ts.TraceByRequest(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, "boom", one.Error)

	_, err = ts.TraceByRequest(ctx, "missing")
	assert.Error(t, err)

	require.NoError(t, ts.DeleteTracesByConversation(ctx, "c1"))
	traces, err = ts.TracesByConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, traces)
}

func TestGORMTraceStore_RejectsInvalidRawResponse(t *testing.T) {
	ts := newTestTraceStore(t)
	err := ts.RecordTrace(context.Background(), completion.Trace{RequestID: "r", Outcome: completion.OutcomeCompleted, RawResponse: []byte("{not json")})
	assert.Error(t, err)
}

func TestNewGORMTraceStore_NilDB(t *testing.T) {
	_, err := NewGORMTraceStore(nil)
	assert.Error(t, err)
}

func TestTraceRetention_RunOnce(t *testing.T) {
	ts := newTestTraceStore(t)
	ctx := context.Background()
	require.NoError(t, ts.RecordTrace(ctx, completion.Trace{RequestID: "old", ConversationID: "c", Outcome: completion.OutcomeCompleted}))
	require.NoError(t, ts.RecordTrace(ctx, completion.Trace{RequestID: "new", ConversationID: "c", Outcome: completion.OutcomeCompleted}))
	require.NoError(t, ts.db.Model(&CompletionTrace{}).Where("request_id = ?", "old").
		Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	r, err := NewTraceRetention(ts, 24*time.Hour, "", nil)
	require.NoError(t, err)
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	traces, err := ts.TracesByConversation(ctx, "c")
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "new", traces[0].RequestID)

	r.Start()
	r.Stop()
}

func TestTraceRetention_Validation(t *testing.T) {
	ts := newTestTraceStore(t)
	_, err := NewTraceRetention(nil, time.Hour, "", nil)
	assert.Error(t, err)
	_, err = NewTraceRetention(ts, 0, "", nil)
	assert.Error(t, err)
	_, err = NewTraceRetention(ts, time.Hour, "not a schedule", nil)
	assert.Error(t, err)
}
