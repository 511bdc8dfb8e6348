package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mock := mocks.NewSyncProducer(t, nil)
	return &Producer{producer: mock, logger: log.WithField("test", t.Name())}, mock
}

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_PublishJSON(t *testing.T) {
	producer, mock := newMockProducer(t)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicReconciliationEvents, msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "TXN-1", string(key))
		assert.Equal(t, "ReconciliationCompleted", headerValue(msg, HeaderEventType))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.Unmarshal(value, &body))
		assert.Equal(t, "42", body["order_id"])
		return nil
	})

	err := producer.PublishJSON(context.Background(), TopicReconciliationEvents, "TXN-1",
		map[string]string{"order_id": "42"},
		map[string]string{HeaderEventType: "ReconciliationCompleted"})
	require.NoError(t, err)
	require.NoError(t, mock.Close())
}

func TestProducer_PublishError(t *testing.T) {
	producer, mock := newMockProducer(t)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	failedBefore := testutil.ToFloat64(producedMessages.WithLabelValues(TopicEscalations, "failed"))

	err := producer.Publish(context.Background(), TopicEscalations, "TXN-2", []byte("{}"), nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(producedMessages.WithLabelValues(TopicEscalations, "failed")))
	require.NoError(t, mock.Close())
}

func TestProducer_PublishCanceledContext(t *testing.T) {
	producer, mock := newMockProducer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := producer.Publish(ctx, TopicEscalations, "TXN-3", []byte("{}"), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mock.Close())
}

func TestProducer_PublishJSONMarshalError(t *testing.T) {
	producer, mock := newMockProducer(t)

	err := producer.PublishJSON(context.Background(), TopicEscalations, "k", make(chan int), nil)
	require.Error(t, err)
	require.NoError(t, mock.Close())
}

func TestNewProducerInvalidBroker(t *testing.T) {
	_, err := NewProducer([]string{"127.0.0.1:1"}, "checkout-test")
	require.Error(t, err)
}

func TestRecordHeaders_SortedByKey(t *testing.T) {
	headers := recordHeaders(map[string]string{
		HeaderRetryCount:    "2",
		HeaderEventType:     "ReconciliationEscalated",
		HeaderOriginalTopic: TopicEscalations,
	})

	var keys []string
	for _, h := range headers {
		keys = append(keys, string(h.Key))
	}
	assert.IsIncreasing(t, keys)
	assert.Len(t, keys, 3)
	assert.Nil(t, recordHeaders(nil))
}

func TestProducerConfig(t *testing.T) {
	cfg := producerConfig("checkout-service")

	assert.Equal(t, "checkout-service", cfg.ClientID)
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.NoError(t, cfg.Validate())
}
