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
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dealport/settle/internal/apierror"
	redlock "github.com/dealport/settle/internal/lock"
	"github.com/dealport/settle/internal/notification"
	"github.com/dealport/settle/model"
)

// Extractor reads structured fields out of a proof image.
type Extractor interface {
	Extract(ctx context.Context, proofType model.ProofType, image string, exp model.Expectations) (model.ExtractionResult, error)
}

// SubmitProofResult is the outcome of an inbound proof submission.
type SubmitProofResult struct {
	OrderID    string                   `json:"order_id"`
	ProofType  model.ProofType          `json:"proof_type"`
	Verified   bool                     `json:"verified"`
	Extraction *model.ExtractionOutcome `json:"extraction"`
}

func unknownProofType(proofType model.ProofType) error {
	return apierror.NewAPIError(apierror.ErrUnknownProofType, fmt.Sprintf("unknown proof type %q", proofType), nil)
}

func extractionLockKey(orderID string, proofType model.ProofType) string {
	return fmt.Sprintf("extract:%s:%s", orderID, proofType)
}

// GetOrExtract returns the cached extraction for (orderID, proofType) or calls
// the provider to produce one. Without forceReExtract a cached entry read from
// the same image is returned as is and the provider is never called. Concurrent callers for the
// same key are serialised with a Redis lock and the cache is re-read once the
// lock is held, so the provider runs at most once per key.
func (s *Settle) GetOrExtract(ctx context.Context, orderID string, proofType model.ProofType, image string, exp model.Expectations, forceReExtract bool) (*model.ExtractionOutcome, error) {
	if !proofType.IsValid() {
		return nil, unknownProofType(proofType)
	}
	if !forceReExtract {
		entry, err := s.datasource.GetExtraction(ctx, orderID, proofType)
		if err != nil {
			return nil, err
		}
		if entry != nil && entry.ExtractedFrom(image) {
			return &model.ExtractionOutcome{Cached: true, Entry: *entry}, nil
		}
	}
	if image == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "proof image is required", nil)
	}
	if err := exp.Validate(proofType); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrMissingExpectations, fmt.Sprintf("expectations incomplete for %s proof", proofType), err)
	}

	ctx, span := tracer.Start(ctx, "Extracting proof")
	defer span.End()

	started := time.Now().UTC()
	unlock, err := s.lockExtraction(ctx, orderID, proofType)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another caller may have finished while this one waited for the lock.
	entry, err := s.datasource.GetExtraction(ctx, orderID, proofType)
	if err != nil {
		return nil, err
	}
	if entry != nil && entry.ExtractedFrom(image) && (!forceReExtract || entry.ExtractedAt.After(started)) {
		return &model.ExtractionOutcome{Cached: true, Entry: *entry}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.ExtractionTimeout())
	defer cancel()
	logger := logrus.WithFields(logrus.Fields{"order_id": orderID, "proof_type": proofType, "forced": forceReExtract})
	result, err := s.extractor.Extract(callCtx, proofType, image, exp)
	if err != nil {
		span.RecordError(err)
		logger.WithError(err).Warn("proof extraction failed")
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apierror.NewAPIError(apierror.ErrExtractionTimeout, fmt.Sprintf("extraction provider did not answer within %s", s.config.ExtractionTimeout()), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrExtractionFailed, "extraction provider failed", err.Error())
	}

	extracted := model.ExtractionCacheEntry{
		ProofType:   proofType,
		Fields:      result.Fields,
		Confidence:  result.Confidence,
		ExtractedAt: time.Now().UTC(),
		Source:      image,
	}
	if err := s.datasource.SaveExtraction(ctx, orderID, extracted); err != nil {
		if apierror.Is(err, apierror.ErrConcurrentModification) {
			logger.Info("proof image replaced during extraction, result dropped")
		}
		return nil, err
	}
	audit := model.NewAuditLog("system:extraction", model.AuditProofExtracted, model.EntityOrder, orderID, map[string]interface{}{
		"proof_type": proofType,
		"confidence": result.Confidence,
		"forced":     forceReExtract,
	})
	if err := s.datasource.RecordAudit(ctx, audit); err != nil {
		notification.NotifyError(err)
	}
	logger.WithField("confidence", result.Confidence).Info("proof extracted")
	return &model.ExtractionOutcome{Cached: false, Entry: extracted}, nil
}

// lockExtraction takes the per-key lock, waiting up to the lock TTL for a
// running extraction to finish. A Redis outage degrades to running unlocked.
func (s *Settle) lockExtraction(ctx context.Context, orderID string, proofType model.ProofType) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}
	key := extractionLockKey(orderID, proofType)
	locker := redlock.NewLocker(s.redis, key, model.GenerateUUIDWithSuffix("lck"))
	ttl := s.config.ExtractionLockTTL()
	if err := locker.WaitLock(ctx, ttl, ttl); err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return nil, apierror.NewAPIError(apierror.ErrExtractionTimeout, "another extraction for this proof is still running", nil)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logrus.WithField("key", key).WithError(err).Warn("extraction lock unavailable, continuing unlocked")
		return func() {}, nil
	}
	return func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithField("key", key).WithError(err).Warn("releasing extraction lock")
		}
	}, nil
}

// ClearExtraction drops the cached extraction so the next request calls the
// provider again.
func (s *Settle) ClearExtraction(ctx context.Context, orderID string, proofType model.ProofType, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !proofType.IsValid() {
		return unknownProofType(proofType)
	}
	if err := s.datasource.DeleteExtraction(ctx, orderID, proofType); err != nil {
		return err
	}
	audit := model.NewAuditLog(actor, model.AuditProofCleared, model.EntityOrder, orderID, map[string]interface{}{"proof_type": proofType})
	return s.datasource.RecordAudit(ctx, audit)
}

// ExtractionStatus reports, for every proof type, whether an extraction is cached.
func (s *Settle) ExtractionStatus(ctx context.Context, orderID string) (map[model.ProofType]model.ExtractionState, error) {
	entries, err := s.datasource.GetExtractions(ctx, orderID)
	if err != nil {
		return nil, err
	}
	status := make(map[model.ProofType]model.ExtractionState, len(model.AllProofTypes))
	for _, proofType := range model.AllProofTypes {
		entry, ok := entries[proofType]
		if !ok {
			status[proofType] = model.ExtractionState{}
			continue
		}
		extractedAt := entry.ExtractedAt
		status[proofType] = model.ExtractionState{Exists: true, ExtractedAt: &extractedAt}
	}
	return status, nil
}

// PrewarmExtractions fills the cache for the given keys. Keys that are already
// cached or have no stored image are skipped; a failing key is recorded and
// the walk continues.
func (s *Settle) PrewarmExtractions(ctx context.Context, keys []model.ProofKey) model.PrewarmReport {
	report := model.PrewarmReport{Items: make([]model.PrewarmItem, 0, len(keys))}
	for _, key := range keys {
		report.Record(s.prewarmOne(ctx, key))
	}
	logrus.WithFields(logrus.Fields{
		"extracted": report.Extracted,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	}).Info("prewarm finished")
	return report
}

func (s *Settle) prewarmOne(ctx context.Context, key model.ProofKey) model.PrewarmItem {
	failed := func(err error) model.PrewarmItem {
		return model.PrewarmItem{ProofKey: key, Status: model.PrewarmFailed, Error: err.Error()}
	}
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if !key.ProofType.IsValid() {
		return failed(unknownProofType(key.ProofType))
	}
	order, err := s.datasource.GetOrderByID(ctx, key.OrderID)
	if err != nil {
		return failed(err)
	}
	if _, ok := order.Extractions[key.ProofType]; ok {
		return model.PrewarmItem{ProofKey: key, Status: model.PrewarmCached}
	}
	image := order.ProofImages[key.ProofType]
	if image == "" {
		return model.PrewarmItem{ProofKey: key, Status: model.PrewarmNoImage}
	}

	outcome, err := s.GetOrExtract(ctx, key.OrderID, key.ProofType, image, model.ExpectationsFor(order, key.ProofType), false)
	if err != nil {
		return failed(err)
	}
	if outcome.Cached {
		return model.PrewarmItem{ProofKey: key, Status: model.PrewarmCached}
	}
	return model.PrewarmItem{ProofKey: key, Status: model.PrewarmExtracted}
}

// QueuePrewarm hands a prewarm batch to the workers and returns the task id.
func (s *Settle) QueuePrewarm(keys []model.ProofKey) (string, error) {
	if len(keys) == 0 {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, "no proof keys given", nil)
	}
	for _, key := range keys {
		if !key.ProofType.IsValid() {
			return "", unknownProofType(key.ProofType)
		}
	}
	return s.queue.EnqueuePrewarm(keys)
}

// ProcessPrewarm is the worker handler for prewarm tasks. Per-key failures are
// part of the report and do not fail the task.
func (s *Settle) ProcessPrewarm(ctx context.Context, task *asynq.Task) error {
	var payload PrewarmPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("undecodable prewarm task")
		return asynq.SkipRetry
	}
	report := s.PrewarmExtractions(ctx, payload.Keys)
	if w := task.ResultWriter(); w != nil {
		data, _ := json.Marshal(report)
		if _, err := w.Write(data); err != nil {
			logrus.WithError(err).Warn("writing prewarm result")
		}
	}
	return nil
}

// SubmitProof stores a new proof image, drops the stale extraction, extracts
// the new image and records whether it matches the order. The image stays
// stored when extraction fails, so the extraction can be retried on its own.
func (s *Settle) SubmitProof(ctx context.Context, orderID string, proofType model.ProofType, image, actor string) (*SubmitProofResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !proofType.IsValid() {
		return nil, unknownProofType(proofType)
	}
	if image == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "proof image is required", nil)
	}
	order, err := s.datasource.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Frozen {
		return nil, apierror.NewAPIError(apierror.ErrFrozen, fmt.Sprintf("order %s is frozen (%s)", orderID, order.FrozenReason), nil)
	}

	event := model.OrderEvent{Type: model.EventProofSubmitted, Actor: actor, To: string(proofType), At: time.Now().UTC()}
	audit := model.NewAuditLog(actor, model.AuditProofSubmitted, model.EntityOrder, orderID, map[string]interface{}{"proof_type": proofType})
	if err := s.datasource.ReplaceProofImage(ctx, orderID, proofType, image, event, audit); err != nil {
		return nil, err
	}
	if order.ProofImages == nil {
		order.ProofImages = map[model.ProofType]string{}
	}
	order.ProofImages[proofType] = image
	delete(order.Extractions, proofType)
	order.Events = append(order.Events, event)

	exp := model.ExpectationsFor(order, proofType)
	outcome, err := s.GetOrExtract(ctx, orderID, proofType, image, exp, false)
	if err != nil {
		return nil, err
	}

	verified := model.MatchExpectations(proofType, exp, outcome.Entry, s.config.Extraction.MinConfidence)
	if err := s.setVerification(ctx, order, proofType, verified, actor); err != nil {
		return nil, err
	}
	return &SubmitProofResult{OrderID: orderID, ProofType: proofType, Verified: verified, Extraction: outcome}, nil
}
