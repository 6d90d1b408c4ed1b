package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/catalog/internal/service/outbox"
)

const deadLetterValue = `{"original_topic":"catalog.events","original_key":"order-1","original_value":"{\"id\":\"evt-1\",\"event_type\":\"OrderPlaced\"}"}`

func defaultConfig() config {
	return config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicCatalogEvents,
		limit:       10,
		idleTimeout: 20 * time.Millisecond,
	}
}

func outboxDLQMessage(t *testing.T, eventType string, original json.RawMessage) []byte {
	t.Helper()

	payload, err := json.Marshal(outbox.DLQPayload{
		OutboxID:      "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "7",
		EventType:     eventType,
		Payload:       original,
		PublishError:  "timeout",
	})
	if err != nil {
		t.Fatalf("marshal dlq payload: %v", err)
	}
	raw, err := json.Marshal(kafka.NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "7",
		EventType:     eventType,
		Payload:       payload,
	}, time.Now()))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestSplitList(t *testing.T) {
	brokers := splitList(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
	if got := splitList(""); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}

func TestExtractReplayMessage_DeadLetter(t *testing.T) {
	got, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(deadLetterValue)}, defaultConfig())
	if err != nil {
		t.Fatalf("extractReplayMessage failed: %v", err)
	}
	if got.topic != kafka.TopicCatalogEvents {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if got.eventType != domain.EventOrderPlaced {
		t.Fatalf("unexpected event type: %s", got.eventType)
	}
	if string(got.value) != `{"id":"evt-1","event_type":"OrderPlaced"}` {
		t.Fatalf("unexpected replay value: %s", string(got.value))
	}
}

func TestExtractReplayMessage_DeadLetterTopicFallback(t *testing.T) {
	for _, original := range []string{"", kafka.TopicDeadLetterQueue} {
		raw, err := json.Marshal(kafka.DeadLetter{OriginalTopic: original, OriginalKey: "k", OriginalValue: `{"x":1}`})
		if err != nil {
			t.Fatalf("marshal dead letter: %v", err)
		}
		got, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, defaultConfig())
		if err != nil {
			t.Fatalf("extractReplayMessage failed: %v", err)
		}
		if got.topic != kafka.TopicCatalogEvents {
			t.Fatalf("original topic %q must fall back to target, got %s", original, got.topic)
		}
	}
}

func TestExtractReplayMessage_OutboxDLQPayload(t *testing.T) {
	raw := outboxDLQMessage(t, domain.EventOrderPlaced, json.RawMessage(`{"order_id":7,"cost":"17.5"}`))

	got, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, defaultConfig())
	if err != nil {
		t.Fatalf("extractReplayMessage failed: %v", err)
	}
	if got.topic != kafka.TopicCatalogEvents {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "7" {
		t.Fatalf("unexpected key: %s", got.key)
	}

	var replayed kafka.Envelope
	if err := json.Unmarshal(got.value, &replayed); err != nil {
		t.Fatalf("replay payload must be an envelope: %v", err)
	}
	if replayed.ID != "outbox-1" || replayed.EventType != domain.EventOrderPlaced || replayed.AggregateType != domain.AggregateOrder {
		t.Fatalf("unexpected replay envelope: %+v", replayed)
	}
	if string(replayed.Payload) != `{"order_id":7,"cost":"17.5"}` {
		t.Fatalf("original payload must be restored, got %s", string(replayed.Payload))
	}
}

func TestExtractReplayMessage_EventTypeFilter(t *testing.T) {
	cfg := defaultConfig()
	cfg.eventTypes = map[string]struct{}{domain.EventProductVersionCreated: {}}

	raw := outboxDLQMessage(t, domain.EventOrderPlaced, json.RawMessage(`{"order_id":7}`))
	if _, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, cfg); !errors.Is(err, errFilteredOut) {
		t.Fatalf("expected filtered out, got %v", err)
	}
	if _, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(deadLetterValue)}, cfg); !errors.Is(err, errFilteredOut) {
		t.Fatalf("expected filtered out dead letter, got %v", err)
	}

	raw = outboxDLQMessage(t, domain.EventProductVersionCreated, json.RawMessage(`{"product_id":1}`))
	if _, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, cfg); err != nil {
		t.Fatalf("matching event type must pass: %v", err)
	}
}

func TestExtractReplayMessage_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		value   []byte
		wantErr string
	}{
		{name: "not json", value: []byte("nope"), wantErr: "decode dlq envelope"},
		{name: "unknown shape", value: []byte(`{"foo":"bar"}`), wantErr: "neither original value nor outbox payload"},
		{name: "payload not object", value: []byte(`{"id":"x","payload":"not-an-object"}`), wantErr: "decode outbox dlq payload"},
		{name: "nested payload missing", value: []byte(`{"id":"x","payload":{"outbox_id":"x","event_type":"OrderPlaced"}}`), wantErr: "does not contain original event payload"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: tc.value}, defaultConfig())
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=catalog.dlq",
		"-target-topic=catalog.events",
		"-event-types=OrderPlaced, ProductVersionCreated",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
		}
		if cfg.limit != 10 {
			t.Fatalf("unexpected limit: %d", cfg.limit)
		}
		if !cfg.execute || !cfg.fromNewest {
			t.Fatalf("expected execute and from-newest: %+v", cfg)
		}
		if cfg.idleTimeout != 3*time.Second {
			t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
		}
		if !cfg.accepts(domain.EventOrderPlaced) || !cfg.accepts(domain.EventProductVersionCreated) || cfg.accepts("Other") {
			t.Fatalf("unexpected event type filter: %+v", cfg.eventTypes)
		}
	})
}

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv(brokersEnv, "env-broker:9092")

	withFlagArgs(t, nil, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 1 || cfg.brokers[0] != "env-broker:9092" {
			t.Fatalf("brokers must come from env: %v", cfg.brokers)
		}
		if cfg.sourceTopic != kafka.TopicDeadLetterQueue || cfg.targetTopic != kafka.TopicCatalogEvents {
			t.Fatalf("unexpected default topics: %s -> %s", cfg.sourceTopic, cfg.targetTopic)
		}
		if cfg.execute {
			t.Fatal("dry-run must be the default")
		}
		if !cfg.accepts("anything") {
			t.Fatal("empty filter must accept every event type")
		}
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	t.Setenv(brokersEnv, "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "brokers", args: []string{"-brokers="}, wantErr: "kafka brokers are required"},
		{name: "source topic", args: []string{"-brokers=broker:9092", "-source-topic="}, wantErr: "source-topic is required"},
		{name: "target topic", args: []string{"-brokers=broker:9092", "-target-topic="}, wantErr: "target-topic is required"},
		{name: "same topics", args: []string{"-brokers=broker:9092", "-source-topic=t", "-target-topic=t"}, wantErr: "must differ"},
		{name: "limit", args: []string{"-brokers=broker:9092", "-limit=0"}, wantErr: "limit must be > 0"},
		{name: "idle timeout", args: []string{"-brokers=broker:9092", "-idle-timeout=0s"}, wantErr: "idle-timeout must be > 0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			withFlagArgs(t, tc.args, func() {
				_, err := readConfig()
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got: %v", tc.wantErr, err)
				}
			})
		})
	}
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayMessage{}, "src"); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &stubReplayProducer{}
	err := publishReplay(producer, replayMessage{topic: "topic", key: "key", eventType: "OrderPlaced", value: []byte(`{"x":1}`)}, "catalog.dlq")
	if err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if producer.calls != 1 {
		t.Fatalf("unexpected producer calls: %d", producer.calls)
	}
	if producer.lastMsg == nil || producer.lastMsg.Topic != "topic" {
		t.Fatalf("unexpected last message: %+v", producer.lastMsg)
	}
	headers := map[string]string{}
	for _, h := range producer.lastMsg.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	if headers[headerReplayedFrom] != "catalog.dlq" || headers[kafka.HeaderEventType] != "OrderPlaced" {
		t.Fatalf("unexpected headers: %v", headers)
	}

	producer.sendErr = errors.New("send failed")
	if err := publishReplay(producer, replayMessage{topic: "topic"}, "src"); err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(deadLetterValue)}}),
		},
	}

	stats, err := processPartition(context.Background(), consumer, client, nil, defaultConfig(), 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_FromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)},
	}
	cfg := defaultConfig()
	cfg.fromNewest = true

	if _, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 4); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if consumer.calls[0].offset != 6 {
		t.Fatalf("expected start offset 6, got %d", consumer.calls[0].offset)
	}

	consumer.calls = nil
	consumer.consumers[0] = closedPartitionConsumer(nil)
	if _, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 100); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if consumer.calls[0].offset != 3 {
		t.Fatalf("start offset must not go below oldest, got %d", consumer.calls[0].offset)
	}
}

func TestProcessPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: []byte(deadLetterValue)},
				{Partition: 0, Offset: 1, Value: outboxDLQMessage(t, domain.EventOrderPlaced, json.RawMessage(`{"order_id":7}`))},
				{Partition: 0, Offset: 2, Value: []byte(`{"foo":"bar"}`)},
			}),
		},
	}
	producer := &stubReplayProducer{}
	cfg := defaultConfig()
	cfg.execute = true

	stats, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 3 || stats.replayed != 2 || stats.skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if producer.calls != 2 {
		t.Fatalf("expected two producer calls, got %d", producer.calls)
	}
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := defaultConfig()
	cfg.execute = true

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := processPartition(context.Background(), consumerErr, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	pcOK := closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(deadLetterValue)}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcOK}}
	producer := &stubReplayProducer{sendErr: errors.New("send fail")}
	if _, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 1); err == nil {
		t.Fatal("expected producer send error")
	}

	empty := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}
	stats, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, empty, nil, cfg, 0, 1)
	if err != nil || stats.processed != 0 {
		t.Fatalf("empty partition must be a no-op: stats=%+v err=%v", stats, err)
	}
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	cfg := defaultConfig()
	cfg.idleTimeout = 10 * time.Millisecond

	idleConsumer := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idleConsumer}}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", stats)
	}
	close(idleConsumer.messages)
	close(idleConsumer.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if _, err := processPartition(ctx, canceledConsumer, client, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestRunReplay(t *testing.T) {
	cfg := defaultConfig()
	cfg.limit = 1

	if _, err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(deadLetterValue)}}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 2, Offset: 0, Value: []byte(deadLetterValue)}}),
		},
	}

	stats, err := runReplay(context.Background(), cfg, client, consumer, nil)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 {
		t.Fatalf("expected one partition due limit=1, got calls=%d", len(consumer.calls))
	}
	if consumer.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", consumer.calls[0].partition)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if _, err := runReplay(context.Background(), executeCfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if _, err := runReplay(context.Background(), cfg, emptyClient, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}

	failingClient := &stubOffsetClient{partitionsErr: errors.New("metadata")}
	if _, err := runReplay(context.Background(), cfg, failingClient, consumer, nil); err == nil {
		t.Fatal("expected partitions error")
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := defaultConfig()
	cfg.limit = 1

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(deadLetterValue)}}),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	defer func() {
		newReplayDependencies = oldDeps
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(deadLetterValue)}}),
		},
	}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-limit=1", "-idle-timeout=50ms"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	main()
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type stubReplayProducer struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.calls++
	s.lastMsg = msg
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(s.calls), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
