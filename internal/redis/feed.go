package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"towing/internal/domain"
)

const feedPrefix = "feed:"

// TableTopic is the channel carrying every change of a table.
func TableTopic(table string) string {
	return feedPrefix + table
}

// RowTopic is the channel carrying changes of a single row.
func RowTopic(table, id string) string {
	return fmt.Sprintf("%s%s:%s", feedPrefix, table, id)
}

// Feed is a best-effort change feed over Redis Pub/Sub. Messages published
// while a subscriber is disconnected are lost.
type Feed struct {
	client *redis.Client
}

// NewFeed creates a new Feed.
func NewFeed(client *redis.Client) *Feed {
	return &Feed{client: client}
}

// Publish sends ev to the table topic and to the row topic.
func (f *Feed) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pipe := f.client.Pipeline()
	pipe.Publish(ctx, TableTopic(ev.Table), data)
	pipe.Publish(ctx, RowTopic(ev.Table, ev.RowID), data)
	_, err = pipe.Exec(ctx)
	return err
}

// Subscribe listens on the given topics until ctx ends or Close is called.
func (f *Feed) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, topics...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &pubsubSubscription{
		pubsub: pubsub,
		events: make(chan domain.ChangeEvent, 16),
	}
	go sub.pump(ctx)
	return sub, nil
}

type pubsubSubscription struct {
	pubsub *redis.PubSub
	events chan domain.ChangeEvent
	once   sync.Once
}

func (s *pubsubSubscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

func (s *pubsubSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.pubsub.Close() })
	return err
}

func (s *pubsubSubscription) pump(ctx context.Context) {
	defer close(s.events)
	defer s.Close()

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
