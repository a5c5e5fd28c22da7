package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/blocknest/sweeperd/pkg/common/logger"
)

var (
	ErrPermanent = errors.New("permanent messaging error")
	MaxMsgSize   = 10 * 1024 // 10KB
)

type MessageQueue interface {
	Enqueue(topic string, message []byte, options *EnqueueOptions) error
	// handler shouldn't be a blocking call as it would trigger redelivery of
	// the message if certain period of time has passed without ack.
	Dequeue(topic string, handler func(message []byte) error) error
	Close()
}

type EnqueueOptions struct {
	IdempotentKey string
}

type msgQueue struct {
	consumerName    string
	stream          string
	js              jetstream.JetStream
	consumerContext jetstream.ConsumeContext
}

type NATSMessageQueueManager struct {
	queueName string
	js        jetstream.JetStream
}

func NewNATSMessageQueueManager(queueName string, subjectWildCards []string, nc *nats.Conn) (*NATSMessageQueueManager, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx := context.Background()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        queueName,
		Description: "Stream for " + queueName,
		Subjects:    subjectWildCards,
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      2 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create JetStream stream: %w", err)
	}

	return &NATSMessageQueueManager{
		queueName: queueName,
		js:        js,
	}, nil
}

// NewMessageQueue returns a queue handle for the manager's stream. The
// durable consumer is created lazily on the first Dequeue, filtered to the
// requested subject, so publish-only callers never register a consumer that
// nothing reads.
func (m *NATSMessageQueueManager) NewMessageQueue(consumerName string) MessageQueue {
	return &msgQueue{
		consumerName: consumerName,
		stream:       m.queueName,
		js:           m.js,
	}
}

func (mq *msgQueue) Enqueue(topic string, message []byte, options *EnqueueOptions) error {
	header := nats.Header{}
	if options != nil && options.IdempotentKey != "" {
		header.Add("Nats-Msg-Id", options.IdempotentKey)
	}

	_, err := mq.js.PublishMsg(context.Background(), &nats.Msg{
		Subject: topic,
		Data:    message,
		Header:  header,
	})
	if err != nil {
		return fmt.Errorf("error enqueueing message: %w", err)
	}
	return nil
}

func (mq *msgQueue) Dequeue(topic string, handler func(message []byte) error) error {
	consumer, err := mq.js.CreateOrUpdateConsumer(context.Background(), mq.stream, jetstream.ConsumerConfig{
		Name:           mq.consumerName,
		Durable:        mq.consumerName,
		MaxAckPending:  4,
		FilterSubjects: []string{topic},
		MaxDeliver:     3,
	})
	if err != nil {
		return fmt.Errorf("create JetStream consumer: %w", err)
	}

	c, err := consumer.Consume(func(msg jetstream.Msg) {
		meta, _ := msg.Metadata()
		if err := handler(msg.Data()); err != nil {
			if errors.Is(err, ErrPermanent) {
				logger.Info("Permanent error on message", "meta", meta)
				_ = msg.Term()
				return
			}

			logger.Error("Error handling message", "err", err)
			_ = msg.Nak()
			return
		}

		if err := msg.Ack(); err != nil {
			logger.Error("Error acknowledging message", "err", err)
		}
	})
	mq.consumerContext = c
	return err
}

func (mq *msgQueue) Close() {
	if mq.consumerContext != nil {
		mq.consumerContext.Stop()
	}
}
