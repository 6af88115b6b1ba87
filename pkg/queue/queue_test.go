package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQueue(rdb, nil), mr
}

func TestEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	payload := ProcessPayload{RecordingID: uuid.New(), UserID: uuid.New()}

	require.NoError(t, q.EnqueueProcess(ctx, payload))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeProcessRecording, job.Type)

	got, err := DecodeProcess(job)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDequeueSkipsMalformed(t *testing.T) {
	q, mr := newTestQueue(t)
	_, err := mr.RPush(QueueProcess, "{not json")
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDeadLetter(t *testing.T) {
	q, mr := newTestQueue(t)
	job := &Job{ID: "j1", Type: JobTypeProcessRecording}

	require.NoError(t, q.DeadLetter(context.Background(), job, errors.New("transcribe failed")))

	items, err := mr.List(QueueDLQ)
	require.NoError(t, err)
	require.Len(t, items, 1)
	var stored Job
	require.NoError(t, json.Unmarshal([]byte(items[0]), &stored))
	assert.Equal(t, "transcribe failed", stored.Error)
}

func TestDecodeProcessRejectsUnknownType(t *testing.T) {
	_, err := DecodeProcess(&Job{Type: "email"})
	assert.Error(t, err)
}
