// Package queue relays committed events between processes through an Azure
// Storage queue. The command service enqueues every event it appends; the
// read-model updater dequeues them and republishes them on its local bus.
package queue

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

// Client is the subset of *azqueue.QueueClient used here.
type Client interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// NewClient creates a queue client with the retry policy used by the services.
func NewClient(connStr, queueName string) (*azqueue.QueueClient, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, errors.Wrap(err, "queue client")
	}
	return qc, nil
}

// Relay forwards committed events to the queue.
type Relay struct {
	client Client
}

func NewRelay(client Client) *Relay {
	return &Relay{client: client}
}

// Attach subscribes the relay to every event of l. Enqueue failures are
// logged by the bus; the downstream projector recovers them on its next
// reconcile pass.
func (r *Relay) Attach(l *eventlog.Log) *eventlog.Subscription {
	return l.On(eventlog.TopicAll, r.Forward)
}

// Forward enqueues one event.
func (r *Relay) Forward(ctx context.Context, evt eventlog.Event) error {
	body, err := sonic.MarshalString(evt)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if _, err := r.client.EnqueueMessage(ctx, body, nil); err != nil {
		return errors.Wrapf(err, "enqueue %s v%d", evt.Stream(), evt.Version)
	}
	return nil
}

// Consumer drains the queue into a local bus.
type Consumer struct {
	client    Client
	publish   func(eventlog.Event) error
	batchSize int32
	idle      time.Duration
	logger    *log.Logger
}

type ConsumerOption func(*Consumer)

func WithBatchSize(n int32) ConsumerOption {
	return func(c *Consumer) { c.batchSize = n }
}

func WithIdleDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.idle = d }
}

func WithLogger(logger *log.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

// NewConsumer creates a consumer that hands every dequeued event to publish,
// typically (*eventlog.Bus).Publish.
func NewConsumer(client Client, publish func(eventlog.Event) error, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		client:    client,
		publish:   publish,
		batchSize: 16,
		idle:      time.Second,
		logger:    log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is cancelled. A message is deleted only after it was
// published; undecodable messages are logged and deleted.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		n, err := c.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, eventlog.ErrClosed) {
			return err
		}
		if err != nil {
			c.logger.WithError(err).Warn("receive")
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.idle):
		}
	}
}

// Poll performs one dequeue round and returns the number of messages handled.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	n := c.batchSize
	resp, err := c.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{NumberOfMessages: &n})
	if err != nil {
		return 0, errors.Wrap(err, "dequeue")
	}
	handled := 0
	for _, msg := range resp.Messages {
		if msg == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}
		var evt eventlog.Event
		text := ""
		if msg.MessageText != nil {
			text = *msg.MessageText
		}
		if err := sonic.UnmarshalString(text, &evt); err != nil {
			c.logger.WithError(err).WithField("message_id", *msg.MessageID).Error("dropping undecodable message")
		} else if err := c.publish(evt); err != nil {
			return handled, err
		}
		if _, err := c.client.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
			c.logger.WithError(err).WithField("message_id", *msg.MessageID).Warn("delete message")
		}
		handled++
	}
	return handled, nil
}
