package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-extractor/internal/logging"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

// streamValues returns the field map the relay hands to XADD.
func streamValues(args *redis.XAddArgs) map[string]interface{} {
	values, ok := args.Values.(map[string]interface{})
	if !ok {
		return nil
	}
	return values
}

func newTestRelay(redisClient RedisClient, outbox OutboxRepo) *Relay {
	return NewRelay(outbox, redisClient, logging.Discard(), RelayConfig{
		PollInterval: 50 * time.Millisecond,
		BatchSize:    10,
	})
}

func pendingEvent(aggregateID string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "product",
		AggregateID:   aggregateID,
		EventType:     "PRODUCT_EXTRACTED",
		Payload:       json.RawMessage(`{"url":"https://produto.mercadolivre.com.br/MLB-123456789","price":199.9}`),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Now(),
	}
}

func TestNewRelay_Defaults(t *testing.T) {
	relay := NewRelay(new(MockOutboxRepository), new(MockRedisClient), nil, RelayConfig{})

	assert.Equal(t, 5*time.Second, relay.interval)
	assert.Equal(t, 100, relay.batchSize)
	assert.NotNil(t, relay.logger)
}

func TestRelay_ProcessEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("successfully process and publish events", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		events := []*OutboxEvent{pendingEvent("mercadolivre:MLB1"), pendingEvent("mercadolivre:MLB2")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == event.TargetStream &&
					streamValues(args)["event_type"] == event.EventType &&
					streamValues(args)["aggregate_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		require.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("redis failure marks the event failed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		event := pendingEvent("mercadolivre:MLB1")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		assert.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("invalid payload is never published", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		event := pendingEvent("mercadolivre:MLB1")
		event.Payload = json.RawMessage(`{"url":`)
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.Anything).Return(nil)

		assert.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("handle empty event batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		require.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("pending query failure is returned", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("connection refused"))

		err := relay.processEvents(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("continue processing on individual event failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		events := []*OutboxEvent{pendingEvent("shopee:1:2"), pendingEvent("shopee:1:3")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValues(args)["aggregate_id"] == "shopee:1:2"
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValues(args)["aggregate_id"] == "shopee:1:3"
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		require.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})
}

func TestRelay_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("stream data envelope", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		relay := newTestRelay(mockRedis, new(MockOutboxRepository))

		event := pendingEvent("shopee:1:2")
		event.RetryCount = 2

		var captured *redis.XAddArgs
		mockRedis.On("XAdd", ctx, mock.Anything).Run(func(args mock.Arguments) {
			captured = args.Get(1).(*redis.XAddArgs)
		}).Return(nil)

		require.NoError(t, relay.publish(ctx, event))
		require.NotNil(t, captured)

		assert.Equal(t, DefaultStream, captured.Stream)
		assert.Equal(t, "PRODUCT_EXTRACTED", streamValues(captured)["type"])
		assert.Equal(t, event.ID.String(), streamValues(captured)["original_id"])
		assert.Equal(t, "product", streamValues(captured)["aggregate_type"])

		var data struct {
			ID          string          `json:"id"`
			Type        string          `json:"type"`
			AggregateID string          `json:"aggregate_id"`
			Timestamp   string          `json:"timestamp"`
			Payload     json.RawMessage `json:"payload"`
			Metadata    struct {
				Source       string `json:"source"`
				OutboxID     string `json:"outbox_id"`
				RetryCount   int    `json:"retry_count"`
				TargetStream string `json:"target_stream"`
			} `json:"metadata"`
		}
		require.NoError(t, json.Unmarshal([]byte(streamValues(captured)["data"].(string)), &data))

		assert.Equal(t, event.ID.String(), data.ID)
		assert.Equal(t, "PRODUCT_EXTRACTED", data.Type)
		assert.Equal(t, "shopee:1:2", data.AggregateID)
		assert.NotEmpty(t, data.Timestamp)
		assert.JSONEq(t, string(event.Payload), string(data.Payload))
		assert.Equal(t, "marketplace-extractor", data.Metadata.Source)
		assert.Equal(t, event.ID.String(), data.Metadata.OutboxID)
		assert.Equal(t, 2, data.Metadata.RetryCount)
		assert.Equal(t, DefaultStream, data.Metadata.TargetStream)
	})
}

func TestRelay_Start(t *testing.T) {
	t.Run("stop on context cancellation", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error)
		go func() {
			done <- relay.Start(ctx)
		}()

		time.Sleep(100 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("relay did not stop on context cancellation")
		}
	})
}
