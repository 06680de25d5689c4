package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error { a.acked = true; return nil }

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeue = true, requeue
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeue = true, requeue
	return nil
}

func deliver(ctx context.Context, t *testing.T, handlerErr error) *fakeAcknowledger {
	t.Helper()
	ack := &fakeAcknowledger{}
	c := &Consumer{
		baseDelay: time.Millisecond,
		handler:   func(context.Context, []byte) error { return handlerErr },
		logger:    zap.NewNop(),
	}
	c.processDelivery(ctx, amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("{}")}, zap.NewNop())
	return ack
}

func TestProcessDelivery(t *testing.T) {
	ack := deliver(context.Background(), t, nil)
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)

	ack = deliver(context.Background(), t, errors.New("upload failed"))
	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ack = deliver(ctx, t, fmt.Errorf("pipeline interrupted: %w", context.Canceled))
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestAttemptFromHeaders(t *testing.T) {
	assert.Equal(t, 1, attemptFromHeaders(nil))
	assert.Equal(t, 1, attemptFromHeaders(amqp.Table{"other": 1}))
	assert.Equal(t, 3, attemptFromHeaders(amqp.Table{"x-death": []interface{}{1, 2, 3}}))
}

func TestBackoff(t *testing.T) {
	base := time.Second
	assert.Equal(t, time.Second, backoff(base, 0))
	assert.Equal(t, time.Second, backoff(base, 1))
	assert.Equal(t, 4*time.Second, backoff(base, 3))
	assert.Equal(t, maxBackoff, backoff(base, 10))
	assert.Equal(t, maxBackoff, backoff(base, 200))
}

func TestStatusPublishing(t *testing.T) {
	msg := entity.ReconstructionStatusMessage{
		JobID:       uuid.New(),
		UserID:      "user-1",
		Status:      entity.JobStatusCompleted,
		Stage:       entity.StageDone,
		MeshKey:     "user-1/j/mesh.ply",
		VertexCount: 10,
	}
	p, err := statusPublishing(msg)
	require.NoError(t, err)
	assert.Equal(t, "application/json", p.ContentType)
	assert.Equal(t, amqp.Persistent, p.DeliveryMode)
	assert.Equal(t, msg.JobID.String(), p.MessageId)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(p.Body, &decoded))
	assert.Equal(t, "COMPLETED", decoded["status"])
	assert.Equal(t, "done", decoded["stage"])
	assert.Equal(t, "user-1/j/mesh.ply", decoded["mesh_key"])
	assert.NotContains(t, decoded, "error_message")
}

func TestDLQPublishing(t *testing.T) {
	p := dlqPublishing([]byte(`{"job_id":"x"}`), "mapper failed", entity.StageSparseReconstructed)
	assert.Equal(t, "mapper failed", p.Headers["x-dlq-reason"])
	assert.Equal(t, "sparse_reconstructed", p.Headers["x-dlq-stage"])
	assert.Equal(t, []byte(`{"job_id":"x"}`), p.Body)
}
