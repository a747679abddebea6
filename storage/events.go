package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type messageQueue interface {
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueuePublisher forwards board events to an Azure Storage queue so that
// external collaborators (calendar sync, chat notifications) can follow the
// board without reading its files.
type QueuePublisher struct {
	queue messageQueue
}

// NewQueuePublisher connects to the named queue.
func NewQueuePublisher(connStr, queueName string) (*QueuePublisher, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueuePublisher{queue: q}, nil
}

// Publish enqueues ev as a JSON message.
func (p *QueuePublisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// ChannelPublisher broadcasts board events on a Redis pub/sub channel.
type ChannelPublisher struct {
	redis   *redis.Client
	channel string
}

func NewChannelPublisher(client *redis.Client, channel string) *ChannelPublisher {
	return &ChannelPublisher{redis: client, channel: channel}
}

func (p *ChannelPublisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, p.channel, data).Err()
}
