package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"go.uber.org/zap/zaptest"
)

func newBrokerURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)
	return url
}

func TestConsumerAgainstBroker(t *testing.T) {
	cfg := ConsumerConfig{
		URL:              newBrokerURL(t),
		Queue:            "reconstruction.jobs",
		Exchange:         "aerominds",
		DLQ:              "reconstruction.jobs.dlq",
		StatusQueue:      "reconstruction.status",
		JobRoutingKey:    "reconstruction.requested",
		StatusRoutingKey: "reconstruction.status",
		Prefetch:         1,
		WorkerCount:      2,
		BaseDelayMs:      10,
	}

	var calls atomic.Int32
	handler := func(_ context.Context, body []byte) error {
		if calls.Add(1) == 1 {
			return errors.New("minio unavailable")
		}
		return nil
	}

	consumer, err := NewConsumer(cfg, handler, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = consumer.Close() })
	require.NoError(t, consumer.HealthCheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Start(ctx) }()

	conn, err := amqp.Dial(cfg.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	pub, err := NewPublisher(conn, cfg.Exchange)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	job := []byte(`{"job_id":"` + uuid.NewString() + `","user_id":"u","video_key":"u/v.mp4"}`)
	require.NoError(t, pub.channel.PublishWithContext(ctx, cfg.Exchange, cfg.JobRoutingKey, false, false,
		amqp.Publishing{ContentType: "application/json", Body: job}))

	// The failed first delivery is requeued and the second one acked.
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 30*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		q, err := pub.channel.QueueDeclarePassive(cfg.Queue, true, false, false, false, nil)
		return err == nil && q.Messages == 0
	}, 10*time.Second, 50*time.Millisecond)

	status := entity.ReconstructionStatusMessage{JobID: uuid.New(), UserID: "u", Status: entity.JobStatusProcessing, Stage: entity.StageInit, Attempt: 1}
	require.NoError(t, NewStatusPublisher(pub, cfg.StatusRoutingKey).PublishStatus(ctx, status))
	got := getOne(t, pub.channel, cfg.StatusQueue)
	var decoded entity.ReconstructionStatusMessage
	require.NoError(t, json.Unmarshal(got.Body, &decoded))
	assert.Equal(t, status.JobID, decoded.JobID)
	assert.Equal(t, status.JobID.String(), got.MessageId)

	require.NoError(t, NewDLQPublisher(pub, cfg.DLQ).PublishToDLQ(ctx, job, "pipeline failed", entity.StageMatched))
	parked := getOne(t, pub.channel, cfg.DLQ)
	assert.Equal(t, job, parked.Body)
	assert.Equal(t, "matched", parked.Headers["x-dlq-stage"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
	require.NoError(t, consumer.Close())
	assert.Error(t, consumer.HealthCheck(context.Background()))
}

func getOne(t *testing.T, ch *amqp.Channel, queue string) amqp.Delivery {
	t.Helper()
	var d amqp.Delivery
	require.Eventually(t, func() bool {
		var ok bool
		var err error
		d, ok, err = ch.Get(queue, true)
		return err == nil && ok
	}, 10*time.Second, 50*time.Millisecond)
	return d
}
