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
	"encoding/json"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dealport/settle/config"
	"github.com/dealport/settle/internal/request"
)

// Webhook events.
const (
	WebhookOrderCreated         = "order.created"
	WebhookOrdersFrozen         = "orders.frozen"
	WebhookOrderReactivated     = "order.reactivated"
	WebhookOrderAffiliateStatus = "order.affiliate_status_changed"
	WebhookOrderPaymentStatus   = "order.payment_status_changed"
	WebhookOrderProofVerified   = "order.proof_verified"
	WebhookUserSuspended        = "user.suspended"
	WebhookUserUnsuspended      = "user.unsuspended"
	WebhookUserDeleted          = "user.deleted"
	WebhookWalletDeleted        = "wallet.deleted"
	WebhookDealDeleted          = "deal.deleted"
	WebhookPayoutStatus         = "payout.status_changed"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"` // The event type that triggered the webhook.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

var webhookClient = &http.Client{Timeout: 20 * time.Second}

// processHTTP posts a webhook notification to the configured URL with the
// configured headers.
func processHTTP(ctx context.Context, conf *config.Configuration, data NewWebhook) error {
	payload, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}
	_, err = request.Call(webhookClient, req, nil)
	return err
}

// ProcessWebhook processes a webhook notification task from the queue. A
// failed delivery is returned so asynq retries it.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("undecodable webhook task")
		return asynq.SkipRetry
	}
	logrus.WithField("event", payload.Event).Info("processing webhook")
	return processHTTP(ctx, conf, payload)
}
