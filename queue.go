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
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dealport/settle/config"
	redis_db "github.com/dealport/settle/internal/redis-db"
	"github.com/dealport/settle/model"
)

// Queue represents a queue for handling background tasks: outbound webhooks
// and extraction prewarm batches.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      *config.Configuration
}

// PrewarmPayload is the task body of an extraction prewarm batch.
type PrewarmPayload struct {
	Keys []model.ProofKey `json:"keys"`
}

// RedisClientOpt builds the asynq connection options from the configured Redis DNS.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Username:  redisOption.Username,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	queueOptions, err := RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
		conf:      conf,
	}, nil
}

// EnqueueWebhook queues a webhook notification. Nothing is queued when no
// webhook URL is configured.
func (q *Queue) EnqueueWebhook(hook NewWebhook) error {
	if q.conf.Notification.Webhook.Url == "" {
		return nil
	}
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.conf.Queue.WebhookQueue, payload,
		asynq.Queue(q.conf.Queue.WebhookQueue),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"event": hook.Event, "task": info.ID}).Debug("webhook enqueued")
	return nil
}

// EnqueuePrewarm queues an extraction prewarm batch and returns the task id.
func (q *Queue) EnqueuePrewarm(keys []model.ProofKey) (string, error) {
	payload, err := json.Marshal(PrewarmPayload{Keys: keys})
	if err != nil {
		return "", err
	}
	task := asynq.NewTask(q.conf.Queue.PrewarmQueue, payload,
		asynq.Queue(q.conf.Queue.PrewarmQueue),
		asynq.MaxRetry(1),
		asynq.Timeout(time.Duration(len(keys)+1)*q.conf.ExtractionLockTTL()),
	)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{"keys": len(keys), "task": info.ID}).Info("prewarm batch enqueued")
	return info.ID, nil
}

// Close closes the underlying connections.
func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}
