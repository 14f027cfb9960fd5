//go:build integration

package outbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"togoretrouve/internal/outbox"
	"togoretrouve/internal/platform/kafka"
	"togoretrouve/internal/platform/kafka/consumer"
	"togoretrouve/internal/platform/kafka/producer"
	"togoretrouve/internal/platform/logger"
	"togoretrouve/pkg/testutil"
	"togoretrouve/pkg/testutil/containers"
)

const (
	chatTopic        = "it.chat"
	declarationTopic = "it.declarations"
)

type KafkaRelaySuite struct {
	suite.Suite
	brokers  []string
	producer *producer.Producer
}

func TestKafkaRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaRelaySuite))
}

func (s *KafkaRelaySuite) SetupSuite() {
	ctx := context.Background()
	s.brokers = containers.GetManager().GetRedpanda(s.T()).Brokers
	s.Require().NoError(kafka.EnsureTopics(ctx, s.brokers, chatTopic, declarationTopic))
	// A second call must tolerate existing topics.
	s.Require().NoError(kafka.EnsureTopics(ctx, s.brokers, chatTopic))

	p, err := producer.New(s.brokers, logger.Discard())
	s.Require().NoError(err)
	s.Require().NoError(p.Health(ctx))
	s.producer = p
}

func (s *KafkaRelaySuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

type received struct {
	mu   sync.Mutex
	msgs []*consumer.Message
}

func (r *received) Handle(_ context.Context, msg *consumer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *received) snapshot() []*consumer.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*consumer.Message(nil), r.msgs...)
}

func (s *KafkaRelaySuite) TestRelayedEventsReachTheRouter() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := outbox.NewMemoryStore()
	chat, err := outbox.NewEvent(outbox.AggregateConversation, "conv-1", outbox.EventMessageCreated,
		map[string]string{"body": "bonjour"}, testutil.FixedNow)
	s.Require().NoError(err)
	status, err := outbox.NewEvent(outbox.AggregateDeclaration, "decl-1", outbox.EventDeclarationStatusChanged,
		map[string]string{"to": "published"}, testutil.FixedNow)
	s.Require().NoError(err)
	s.Require().NoError(store.Append(ctx, chat, status))

	sink := outbox.NewKafkaSink(s.producer, map[string]string{
		outbox.AggregateConversation: chatTopic,
		outbox.AggregateDeclaration:  declarationTopic,
	})
	relay := outbox.NewRelay(store, sink, outbox.WithLogger(logger.Discard()))
	s.Equal(2, relay.Drain(ctx))
	s.Zero(store.Pending())

	messages := &received{}
	router := outbox.NewRouter(logger.Discard(), nil)
	router.Register(outbox.EventMessageCreated, messages)

	c, err := consumer.New(consumer.Config{
		Brokers: s.brokers,
		Group:   "it-fanout",
		Topics:  []string{chatTopic, declarationTopic},
	}, router, logger.Discard())
	s.Require().NoError(err)
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	s.Eventually(func() bool { return len(messages.snapshot()) == 1 }, 20*time.Second, 100*time.Millisecond)
	cancel()
	<-done

	got := messages.snapshot()
	s.Require().Len(got, 1)
	s.Equal(chatTopic, got[0].Topic)
	s.Equal("conv-1", string(got[0].Key))
	s.Equal(chat.ID.String(), got[0].Headers[outbox.HeaderEventID])
	s.JSONEq(`{"body":"bonjour"}`, string(got[0].Value))
}
