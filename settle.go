/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package settle

import (
	"context"
	"embed"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/dealport/settle/config"
	"github.com/dealport/settle/database"
	"github.com/dealport/settle/internal/notification"
	"github.com/dealport/settle/internal/realtime"
	redis_db "github.com/dealport/settle/internal/redis-db"
	"github.com/dealport/settle/internal/vision"
)

// Settle owns the settlement core: orders, wallets, payouts, suspensions and
// the proof extraction cache.
type Settle struct {
	config     *config.Configuration
	datasource database.IDataSource
	queue      *Queue
	redis      redis.UniversalClient
	publisher  realtime.Publisher
	extractor  Extractor
}

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("settle")

// Option customises a Settle instance built by NewSettle.
type Option func(*Settle)

// WithExtractor replaces the configured proof extraction provider.
func WithExtractor(e Extractor) Option {
	return func(s *Settle) { s.extractor = e }
}

// WithPublisher replaces the Redis realtime publisher.
func WithPublisher(p realtime.Publisher) Option {
	return func(s *Settle) { s.publisher = p }
}

// NewSettle initializes a new instance of Settle with the provided datasource.
// It fetches the configuration and connects Redis, which backs the task queue,
// the realtime channel and the extraction locks.
func NewSettle(db database.IDataSource, opts ...Option) (*Settle, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(configuration)
	if err != nil {
		return nil, err
	}

	s := &Settle{
		config:     configuration,
		datasource: db,
		queue:      queue,
		redis:      redisClient.Client(),
		publisher:  realtime.NewRedisPublisher(redisClient.Client(), configuration.Queue.RealtimeChannel),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = vision.NewFromConfig(configuration)
	}
	return s, nil
}

// Close releases the queue client and the Redis connection.
func (s *Settle) Close() error {
	var errs []error
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// publish delivers a realtime event. Failures never fail the operation that
// produced the event.
func (s *Settle) publish(ctx context.Context, event realtime.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithField("event", event.Type).Warn("realtime publish failed")
	}
}

// notify enqueues an outbound webhook. The event is already committed, so a
// queue failure is reported rather than returned.
func (s *Settle) notify(event string, payload interface{}) {
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueWebhook(NewWebhook{Event: event, Payload: payload}); err != nil {
		notification.NotifyError(err)
	}
}
