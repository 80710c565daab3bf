package settle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
)

func withProofImage(proofType model.ProofType, image string) func(*model.Order) {
	return func(o *model.Order) {
		o.ProofImages = map[model.ProofType]string{proofType: image}
	}
}

// imageExtractor echoes the image it read and is slow for one of them.
type imageExtractor struct {
	slow  string
	delay time.Duration
}

func (e *imageExtractor) Extract(ctx context.Context, _ model.ProofType, image string, _ model.Expectations) (model.ExtractionResult, error) {
	if image == e.slow {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return model.ExtractionResult{}, ctx.Err()
		}
	}
	return model.ExtractionResult{Fields: map[string]interface{}{"image": image}, Confidence: 0.9}, nil
}

func TestGetOrExtractCachesUntilCleared(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)

	first, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "s3://proofs/review.png", model.Expectations{}, false)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 0.95, first.Entry.Confidence)

	second, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "", model.Expectations{}, false)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Entry.ExtractedAt, second.Entry.ExtractedAt)
	assert.Equal(t, 1, env.extractor.callCount())

	status, err := env.settle.ExtractionStatus(env.ctx, order.OrderID)
	require.NoError(t, err)
	assert.True(t, status[model.ProofReview].Exists)
	assert.False(t, status[model.ProofOrder].Exists)
	assert.Len(t, status, len(model.AllProofTypes))

	require.NoError(t, env.settle.ClearExtraction(env.ctx, order.OrderID, model.ProofReview, "ops_1"))
	third, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "s3://proofs/review.png", model.Expectations{}, false)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, env.extractor.callCount())
	assert.Len(t, env.store.auditsFor(model.AuditProofCleared), 1)
	assert.Len(t, env.store.auditsFor(model.AuditProofExtracted), 2)
}

func TestForcedReExtractCallsProvider(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)

	_, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReturnWindow, "img", model.Expectations{}, false)
	require.NoError(t, err)
	forced, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReturnWindow, "img", model.Expectations{}, true)
	require.NoError(t, err)
	assert.False(t, forced.Cached)
	assert.Equal(t, 2, env.extractor.callCount())
}

func TestConcurrentExtractionsCallProviderOnce(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.delay = 300 * time.Millisecond
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)

	const callers = 4
	outcomes := make([]*model.ExtractionOutcome, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "img", model.Expectations{}, false)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if !outcomes[i].Cached {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, env.extractor.callCount())
	assert.False(t, env.redis.Exists(extractionLockKey(order.OrderID, model.ProofReview)))
}

func TestExtractionErrors(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)

	_, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofType("selfie"), "img", model.Expectations{}, false)
	assert.True(t, apierror.Is(err, apierror.ErrUnknownProofType))

	_, err = env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofOrder, "img", model.Expectations{}, false)
	assert.True(t, apierror.Is(err, apierror.ErrMissingExpectations))

	_, err = env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofRating, "img", model.Expectations{ExpectedBuyerName: buyer.Name}, false)
	assert.True(t, apierror.Is(err, apierror.ErrMissingExpectations))

	_, err = env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "", model.Expectations{}, false)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	_, err = env.settle.GetOrExtract(env.ctx, "ord_missing", model.ProofReview, "img", model.Expectations{}, false)
	assert.True(t, apierror.Is(err, apierror.ErrOrderNotFound))

	assert.Equal(t, 0, env.extractor.callCount())
}

func TestExtractionTimeoutWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.delay = 3 * time.Second
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)

	_, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "img", model.Expectations{}, false)
	assert.True(t, apierror.Is(err, apierror.ErrExtractionTimeout), "got %v", err)
	assert.Equal(t, 0, env.store.callCount("SaveExtraction"))
	assert.Empty(t, env.store.order(order.OrderID).Extractions)
}

func TestExtractionFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.err = errors.New("provider returned 502")
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)

	_, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "img", model.Expectations{}, false)
	assert.True(t, apierror.Is(err, apierror.ErrExtractionFailed))
	assert.Equal(t, 0, env.store.callCount("SaveExtraction"))
	assert.Empty(t, env.store.auditsFor(model.AuditProofExtracted))
	assert.False(t, env.redis.Exists(extractionLockKey(order.OrderID, model.ProofReview)))
}

func TestExtractionHeldLockTimesOut(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)
	require.NoError(t, env.redis.Set(extractionLockKey(order.OrderID, model.ProofReview), "someone-else"))

	_, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "img", model.Expectations{}, false)
	assert.True(t, apierror.Is(err, apierror.ErrExtractionTimeout))
	assert.Equal(t, 0, env.extractor.callCount())
}

func TestExtractionRunsUnlockedWithoutRedis(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)
	env.redis.Close()

	outcome, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "img", model.Expectations{}, false)
	require.NoError(t, err)
	assert.False(t, outcome.Cached)
}

func TestPrewarmExtractionsReport(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	withImage := env.seedOrder(t, buyer, withProofImage(model.ProofReview, "s3://proofs/a.png"))
	cached := env.seedOrder(t, buyer, withProofImage(model.ProofReview, "s3://proofs/b.png"))
	noImage := env.seedOrder(t, buyer)
	_, err := env.settle.GetOrExtract(env.ctx, cached.OrderID, model.ProofReview, "s3://proofs/b.png", model.Expectations{}, false)
	require.NoError(t, err)

	report := env.settle.PrewarmExtractions(env.ctx, []model.ProofKey{
		{OrderID: withImage.OrderID, ProofType: model.ProofReview},
		{OrderID: cached.OrderID, ProofType: model.ProofReview},
		{OrderID: noImage.OrderID, ProofType: model.ProofReview},
		{OrderID: "ord_missing", ProofType: model.ProofReview},
	})

	assert.Equal(t, 1, report.Extracted)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Items, 4)
	assert.Equal(t, model.PrewarmExtracted, report.Items[0].Status)
	assert.Equal(t, model.PrewarmCached, report.Items[1].Status)
	assert.Equal(t, model.PrewarmNoImage, report.Items[2].Status)
	assert.Equal(t, model.PrewarmFailed, report.Items[3].Status)
	assert.NotEmpty(t, report.Items[3].Error)
	assert.Equal(t, 2, env.extractor.callCount())
}

func TestQueueAndProcessPrewarm(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer, withProofImage(model.ProofReview, "s3://proofs/a.png"))
	keys := []model.ProofKey{{OrderID: order.OrderID, ProofType: model.ProofReview}}

	_, err := env.settle.QueuePrewarm(nil)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	_, err = env.settle.QueuePrewarm([]model.ProofKey{{OrderID: order.OrderID, ProofType: "selfie"}})
	assert.True(t, apierror.Is(err, apierror.ErrUnknownProofType))

	id, err := env.settle.QueuePrewarm(keys)
	require.NoError(t, err)
	info, err := env.settle.queue.Inspector.GetTaskInfo(env.settle.config.Queue.PrewarmQueue, id)
	require.NoError(t, err)
	assert.Equal(t, env.settle.config.Queue.PrewarmQueue, info.Type)

	payload, err := json.Marshal(PrewarmPayload{Keys: keys})
	require.NoError(t, err)
	require.NoError(t, env.settle.ProcessPrewarm(env.ctx, asynq.NewTask(env.settle.config.Queue.PrewarmQueue, payload)))
	assert.Equal(t, 1, env.extractor.callCount())

	err = env.settle.ProcessPrewarm(env.ctx, asynq.NewTask(env.settle.config.Queue.PrewarmQueue, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSubmitProofVerifiesAgainstOrder(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)
	env.extractor.result = model.ExtractionResult{
		Fields: map[string]interface{}{
			model.FieldOrderID:     order.OrderID,
			model.FieldAmountPaise: float64(order.TotalPaise),
		},
		Confidence: 0.93,
	}

	result, err := env.settle.SubmitProof(env.ctx, order.OrderID, model.ProofOrder, "s3://proofs/order.png", buyer.UserID)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.False(t, result.Extraction.Cached)

	stored := env.store.order(order.OrderID)
	assert.True(t, stored.Verification[model.ProofOrder])
	assert.Equal(t, "s3://proofs/order.png", stored.ProofImages[model.ProofOrder])

	env.extractor.result.Confidence = 0.4
	result, err = env.settle.SubmitProof(env.ctx, order.OrderID, model.ProofOrder, "s3://proofs/order-2.png", buyer.UserID)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.False(t, env.store.order(order.OrderID).Verification[model.ProofOrder])
	assert.Equal(t, 2, env.extractor.callCount())
}

func TestSubmitProofKeepsImageWhenExtractionFails(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.err = errors.New("provider unavailable")
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)

	_, err := env.settle.SubmitProof(env.ctx, order.OrderID, model.ProofReview, "s3://proofs/review.png", buyer.UserID)
	assert.True(t, apierror.Is(err, apierror.ErrExtractionFailed))

	stored := env.store.order(order.OrderID)
	assert.Equal(t, "s3://proofs/review.png", stored.ProofImages[model.ProofReview])
	assert.NotContains(t, stored.Extractions, model.ProofReview)
	assert.Equal(t, 0, env.store.callCount("SetVerification"))
}

func TestCachedExtractionOfOtherImageIsMiss(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)

	_, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "s3://proofs/a.png", model.Expectations{}, false)
	require.NoError(t, err)
	outcome, err := env.settle.GetOrExtract(env.ctx, order.OrderID, model.ProofReview, "s3://proofs/b.png", model.Expectations{}, false)
	require.NoError(t, err)
	assert.False(t, outcome.Cached)
	assert.Equal(t, "s3://proofs/b.png", outcome.Entry.Source)
	assert.Equal(t, 2, env.extractor.callCount())
}

func TestReplacedProofDropsInFlightExtraction(t *testing.T) {
	env := newTestEnv(t)
	const oldImage, newImage = "s3://proofs/old.png", "s3://proofs/new.png"
	env.settle.extractor = &imageExtractor{slow: oldImage, delay: 400 * time.Millisecond}
	buyer := env.seedUser(t, []model.Role{model.RoleShopper})
	order := env.seedOrder(t, buyer)

	oldDone := make(chan error, 1)
	go func() {
		_, err := env.settle.SubmitProof(env.ctx, order.OrderID, model.ProofReview, oldImage, buyer.UserID)
		oldDone <- err
	}()
	require.Eventually(t, func() bool {
		return env.redis.Exists(extractionLockKey(order.OrderID, model.ProofReview))
	}, time.Second, 5*time.Millisecond)

	result, err := env.settle.SubmitProof(env.ctx, order.OrderID, model.ProofReview, newImage, buyer.UserID)
	require.NoError(t, err)
	assert.False(t, result.Extraction.Cached)
	assert.Equal(t, newImage, result.Extraction.Entry.Source)
	assert.Equal(t, newImage, result.Extraction.Entry.Fields["image"])

	oldErr := <-oldDone
	assert.True(t, apierror.Is(oldErr, apierror.ErrConcurrentModification), "got %v", oldErr)

	stored := env.store.order(order.OrderID)
	assert.Equal(t, newImage, stored.ProofImages[model.ProofReview])
	assert.Equal(t, newImage, stored.Extractions[model.ProofReview].Source)
}
