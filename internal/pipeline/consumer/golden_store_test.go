package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
	"github.com/jobgtm/pipeline-be/internal/pipeline/retry"
)

type fakeGoldenStore struct {
	mu      sync.Mutex
	applied []int64
	err     error
}

func (f *fakeGoldenStore) ApplyEnrichment(_ context.Context, msg *domain.EnrichedJobMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, msg.ID)
	return nil
}

func (f *fakeGoldenStore) appliedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.applied...)
}

func newGoldenStoreForTest(store *fakeGoldenStore, pub *fakePublisher, batchSize int, timeout time.Duration) *GoldenStoreConsumer {
	policy := retry.NewPolicy(3, "enriched_jobs_exchange", domain.EnrichedJobsQueue, pub, testLogger())
	return NewGoldenStoreConsumer(store, policy, batchSize, timeout, testLogger())
}

func enrichedMessage(id int64) domain.EnrichedJobMessage {
	return domain.EnrichedJobMessage{
		GoldenJobMessage: domain.GoldenJobMessage{
			ID:           id,
			PostingURL:   "https://example.com/job/42",
			CompanyTitle: "Acme",
			JobRole:      "Go Engineer",
		},
		EnrichedAt:       time.Now().UTC(),
		EnrichmentStatus: domain.StageStatusCompleted,
	}
}

func TestGoldenStore_PersistsOnlyOnBatchFlush(t *testing.T) {
	store := &fakeGoldenStore{}
	c := newGoldenStoreForTest(store, &fakePublisher{}, 10, time.Hour)

	ack := &fakeAcknowledger{}
	c.Handle(context.Background(), jsonDelivery(t, ack, enrichedMessage(1)))
	c.Handle(context.Background(), jsonDelivery(t, ack, enrichedMessage(2)))

	// Without the flush loop running, nothing reaches the database
	assert.Empty(t, store.appliedIDs(), "updates wait for the batch boundary")
	assert.Equal(t, 2, c.acc.Len())
	acks, _, _ := ack.counts()
	assert.Zero(t, acks)
}

func TestGoldenStore_FlushOnBatchSize(t *testing.T) {
	store := &fakeGoldenStore{}
	c := newGoldenStoreForTest(store, &fakePublisher{}, 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	ack := &fakeAcknowledger{}
	c.Handle(ctx, jsonDelivery(t, ack, enrichedMessage(1)))
	c.Handle(ctx, jsonDelivery(t, ack, enrichedMessage(2)))

	require.Eventually(t, func() bool {
		acks, _, _ := ack.counts()
		return acks == 2
	}, 2*time.Second, 10*time.Millisecond, "full batch should flush without waiting for the timeout")
	assert.Equal(t, []int64{1, 2}, store.appliedIDs())
}

func TestGoldenStore_FlushOnTimeout(t *testing.T) {
	store := &fakeGoldenStore{}
	c := newGoldenStoreForTest(store, &fakePublisher{}, 50, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	ack := &fakeAcknowledger{}
	c.Handle(ctx, jsonDelivery(t, ack, enrichedMessage(1)))

	require.Eventually(t, func() bool {
		acks, _, _ := ack.counts()
		return acks == 1
	}, 2*time.Second, 10*time.Millisecond, "partial batch should flush once the timeout elapses")
}

func TestGoldenStore_MissingJobIsDropped(t *testing.T) {
	store := &fakeGoldenStore{err: domain.ErrJobNotFound}
	pub := &fakePublisher{}
	c := newGoldenStoreForTest(store, pub, 50, time.Hour)

	ack := &fakeAcknowledger{}
	items := []enrichedDelivery{
		{msg: enrichedMessage(42), delivery: jsonDelivery(t, ack, enrichedMessage(42))},
	}
	c.flush(context.Background(), items)

	acks, nacks, rejects := ack.counts()
	assert.Equal(t, 1, acks, "a deleted row can never be retried")
	assert.Zero(t, nacks)
	assert.Zero(t, rejects)
	assert.Empty(t, pub.bodies)
}

func TestGoldenStore_UpdateFailureGoesThroughRetryPolicy(t *testing.T) {
	store := &fakeGoldenStore{err: errors.New("deadlock detected")}
	pub := &fakePublisher{}
	c := newGoldenStoreForTest(store, pub, 50, time.Hour)

	ack := &fakeAcknowledger{}
	items := []enrichedDelivery{
		{msg: enrichedMessage(42), delivery: jsonDelivery(t, ack, enrichedMessage(42))},
	}
	c.flush(context.Background(), items)

	require.Len(t, pub.headers, 1, "first failure republishes with a retry header")
	assert.Equal(t, int32(1), pub.headers[0][domain.RetryCountHeader])
	acks, _, _ := ack.counts()
	assert.Equal(t, 1, acks, "original acked after the retry republish")
}

func TestGoldenStore_MalformedMessageDeadLettered(t *testing.T) {
	c := newGoldenStoreForTest(&fakeGoldenStore{}, &fakePublisher{}, 50, time.Hour)

	ack := &fakeAcknowledger{}
	c.Handle(context.Background(), malformedDelivery(ack))

	_, nacks, _ := ack.counts()
	assert.Equal(t, 1, nacks)
	assert.False(t, ack.lastNackRequeue)
	assert.Zero(t, c.acc.Len(), "malformed messages never enter a batch")
}
