package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second

	// headerReplayedAt помечает сообщения, которые вернули из DLQ вручную.
	headerReplayedAt = "x-replayed-at"
)

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	txnRef      string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// letter — исходное сообщение, восстановленное из DLQ.
type letter struct {
	topic     string
	key       string
	value     []byte
	eventType string
	txnRef    string
}

// deadLetterPayload — полезная нагрузка письма, которое outbox relay отправил в DLQ.
type deadLetterPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	TxnRef        string          `json:"txn_ref"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// dlqReader читает DLQ по партициям в пределах текущего окна смещений.
type dlqReader interface {
	Partitions(topic string) ([]int32, error)
	Window(topic string, partition int32) (oldest, newest int64, err error)
	Consume(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

type saramaReader struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func newSaramaReader(brokers []string) (*saramaReader, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &saramaReader{client: client, consumer: consumer}, nil
}

func (r *saramaReader) Partitions(topic string) ([]int32, error) {
	return r.client.Partitions(topic)
}

func (r *saramaReader) Window(topic string, partition int32) (int64, int64, error) {
	oldest, err := r.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, err
	}
	newest, err := r.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, err
	}
	return oldest, newest, nil
}

func (r *saramaReader) Consume(topic string, partition int32, offset int64) (partitionStream, error) {
	return r.consumer.ConsumePartition(topic, partition, offset)
}

func (r *saramaReader) Close() error {
	return errors.Join(r.consumer.Close(), r.client.Close())
}

// connect подменяется в тестах.
var connect = func(opts options) (dlqReader, publisher, func(), error) {
	reader, err := newSaramaReader(opts.brokers)
	if err != nil {
		return nil, nil, nil, err
	}
	if !opts.execute {
		return reader, nil, func() { _ = reader.Close() }, nil
	}

	producer, err := kafka.NewProducer(opts.brokers, "checkout-dlq-reprocess")
	if err != nil {
		_ = reader.Close()
		return nil, nil, nil, err
	}
	return reader, producer, func() {
		_ = producer.Close()
		_ = reader.Close()
	}, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.Getenv("KAFKA_BROKERS"))
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, opts); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseOptions(fset *flag.FlagSet, args []string, envBrokers string) (options, error) {
	var (
		opts    options
		brokers string
	)
	fset.StringVar(&brokers, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	fset.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fset.StringVar(&opts.targetTopic, "target-topic", kafka.TopicReconciliationEvents, "topic for replayed events other than escalations")
	fset.StringVar(&opts.eventType, "event-type", "", "replay only letters of this event type")
	fset.StringVar(&opts.txnRef, "txn-ref", "", "replay only letters of this transaction")
	fset.IntVar(&opts.limit, "limit", defaultLimit, "max number of messages to scan")
	fset.BoolVar(&opts.execute, "execute", false, "publish replayed messages; default is dry-run")
	fset.BoolVar(&opts.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fset.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fset.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = envBrokers
	}
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			opts.brokers = append(opts.brokers, b)
		}
	}
	opts.eventType = strings.TrimSpace(opts.eventType)
	opts.txnRef = strings.TrimSpace(opts.txnRef)

	switch {
	case len(opts.brokers) == 0:
		return options{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(opts.sourceTopic) == "":
		return options{}, errors.New("source-topic is required")
	case strings.TrimSpace(opts.targetTopic) == "":
		return options{}, errors.New("target-topic is required")
	case opts.limit <= 0:
		return options{}, errors.New("limit must be > 0")
	case opts.idleTimeout <= 0:
		return options{}, errors.New("idle-timeout must be > 0")
	}
	return opts, nil
}

func run(ctx context.Context, opts options) (replayStats, error) {
	log.WithFields(log.Fields{
		"source_topic": opts.sourceTopic,
		"target_topic": opts.targetTopic,
		"event_type":   opts.eventType,
		"txn_ref":      opts.txnRef,
		"limit":        opts.limit,
		"execute":      opts.execute,
	}).Info("starting dlq replay")

	reader, pub, closeFn, err := connect(opts)
	if err != nil {
		return replayStats{}, err
	}
	defer closeFn()

	r := &replayer{opts: opts, reader: reader, publisher: pub, now: time.Now}
	stats, err := r.run(ctx)
	if err != nil {
		return stats, err
	}

	mode := "dry-run"
	if opts.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  stats.scanned,
		"replayed": stats.replayed,
		"filtered": stats.filtered,
		"skipped":  stats.skipped,
	}).Info("dlq replay finished")
	return stats, nil
}

type replayStats struct {
	scanned  int
	replayed int
	filtered int
	skipped  int
}

type replayer struct {
	opts      options
	reader    dlqReader
	publisher publisher
	now       func() time.Time
	stats     replayStats
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	if r.reader == nil {
		return r.stats, errors.New("dlq reader is required")
	}
	if r.opts.execute && r.publisher == nil {
		return r.stats, errors.New("publisher is required in execute mode")
	}

	partitions, err := r.reader.Partitions(r.opts.sourceTopic)
	if err != nil {
		return r.stats, fmt.Errorf("get partitions for topic %s: %w", r.opts.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", r.opts.sourceTopic).Warn("source topic has no partitions")
		return r.stats, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.opts.limit - r.stats.scanned
		if budget <= 0 {
			break
		}
		if err := r.scan(ctx, partition, budget); err != nil {
			return r.stats, err
		}
	}
	return r.stats, nil
}

// scan читает партицию от начала окна (или с конца при fromNewest) до смещения, известного на момент старта.
func (r *replayer) scan(ctx context.Context, partition int32, budget int) error {
	oldest, newest, err := r.reader.Window(r.opts.sourceTopic, partition)
	if err != nil {
		return fmt.Errorf("get offsets for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	start := oldest
	if r.opts.fromNewest {
		start = max(newest-int64(budget), oldest)
	}

	stream, err := r.reader.Consume(r.opts.sourceTopic, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	errs := stream.Errors()
	for seen := 0; seen < budget; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if cerr != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return nil
			}
			idle.Reset(r.opts.idleTimeout)

			seen++
			r.stats.scanned++
			if err := r.handle(ctx, msg); err != nil {
				return err
			}
			if msg.Offset+1 >= newest {
				return nil
			}
		case <-idle.C:
			return nil
		}
	}
	return nil
}

func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	l, ok, err := extractLetter(msg, r.opts.targetTopic)
	if err != nil {
		entry.WithError(err).Warn("skip unsupported dlq message")
		r.stats.skipped++
		return nil
	}
	if !ok {
		r.stats.skipped++
		return nil
	}
	if !r.matches(l) {
		r.stats.filtered++
		return nil
	}

	entry = entry.WithFields(log.Fields{"target_topic": l.topic, "key": l.key, "event_type": l.eventType})
	if !r.opts.execute {
		entry.Info("dlq replay candidate")
		r.stats.replayed++
		return nil
	}

	headers := map[string]string{headerReplayedAt: r.now().UTC().Format(time.RFC3339)}
	if l.eventType != "" {
		headers[kafka.HeaderEventType] = l.eventType
	}
	if err := r.publisher.Publish(ctx, l.topic, l.key, l.value, headers); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	entry.Info("dlq message replayed")
	r.stats.replayed++
	return nil
}

func (r *replayer) matches(l letter) bool {
	if r.opts.eventType != "" && l.eventType != r.opts.eventType {
		return false
	}
	if r.opts.txnRef != "" && l.txnRef != r.opts.txnRef {
		return false
	}
	return true
}

// extractLetter восстанавливает исходное сообщение из письма DLQ.
// Письма consumer-а несут исходное значение и топик в заголовках, письма relay оборачивают событие outbox.
func extractLetter(msg *sarama.ConsumerMessage, defaultTopic string) (letter, bool, error) {
	if original := headerValue(msg, kafka.HeaderOriginalTopic); original != "" {
		l := letter{
			topic:     original,
			key:       string(msg.Key),
			value:     msg.Value,
			eventType: headerValue(msg, kafka.HeaderEventType),
			txnRef:    string(msg.Key),
		}
		if event, err := kafka.ParseEscalation(msg.Value); err == nil {
			l.txnRef = event.TxnRef
		}
		return l, true, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return letter{}, false, nil
	}
	if len(envelope.Payload) == 0 || string(envelope.Payload) == "null" {
		return letter{}, false, nil
	}

	var dead deadLetterPayload
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return letter{}, false, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(dead.Payload) == 0 || string(dead.Payload) == "null" {
		return letter{}, false, fmt.Errorf("dead letter %s does not contain original event payload", envelope.ID)
	}

	original := domain.OutboxMessage{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.TxnRef, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       dead.Payload,
	}
	encoded, err := json.Marshal(kafka.NewEnvelope(original, time.Now()))
	if err != nil {
		return letter{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return letter{
		topic:     topicForEvent(original.EventType, defaultTopic),
		key:       firstNonEmpty(original.AggregateID, original.ID),
		value:     encoded,
		eventType: original.EventType,
		txnRef:    original.AggregateID,
	}, true, nil
}

// topicForEvent повторяет маршрутизацию outbox: эскалации уходят в свой топик.
func topicForEvent(eventType, defaultTopic string) string {
	if eventType == domain.EventReconciliationEscalated {
		return kafka.TopicEscalations
	}
	return defaultTopic
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, header := range msg.Headers {
		if header != nil && string(header.Key) == key {
			return strings.TrimSpace(string(header.Value))
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
