package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "prism/pkg/platform/audit"
)

type fakeSource struct {
	mu        sync.Mutex
	pending   []audit.OutboxRecord
	published []uuid.UUID
}

func (s *fakeSource) ListOutboxPending(_ context.Context, limit int) ([]audit.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > limit {
		return append([]audit.OutboxRecord{}, s.pending[:limit]...), nil
	}
	return append([]audit.OutboxRecord{}, s.pending...), nil
}

func (s *fakeSource) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, ids...)

	marked := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	kept := s.pending[:0]
	for _, rec := range s.pending {
		if !marked[rec.ID] {
			kept = append(kept, rec)
		}
	}
	s.pending = kept
	return nil
}

func (s *fakeSource) CountPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), nil
}

type fakeProducer struct {
	mu      sync.Mutex
	batches [][]*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, rs)

	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

type gaugeSpy struct {
	mu   sync.Mutex
	last int
	set  bool
}

func (g *gaugeSpy) SetRelayPending(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = n
	g.set = true
}

func pendingRecord(key string) audit.OutboxRecord {
	return audit.OutboxRecord{
		ID:      uuid.New(),
		Key:     []byte(key),
		Payload: []byte(`{"event":"enrichment_completed"}`),
	}
}

func TestRelay_DrainPublishesAndMarks(t *testing.T) {
	source := &fakeSource{pending: []audit.OutboxRecord{
		pendingRecord("user-a"),
		pendingRecord("user-b"),
	}}
	producer := &fakeProducer{}
	gauge := &gaugeSpy{}

	r := New(source, producer, "prism.audit.entries", WithMetrics(gauge))
	require.NoError(t, r.drainOnce(context.Background()))

	require.Len(t, producer.batches, 1)
	batch := producer.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "prism.audit.entries", batch[0].Topic)
	assert.Equal(t, []byte("user-a"), batch[0].Key)

	assert.Len(t, source.published, 2, "all produced rows must be marked published")
	assert.True(t, gauge.set)
	assert.Equal(t, 0, gauge.last)
}

func TestRelay_ProduceFailureKeepsRowsPending(t *testing.T) {
	source := &fakeSource{pending: []audit.OutboxRecord{pendingRecord("user-a")}}
	producer := &fakeProducer{err: errors.New("broker unreachable")}

	r := New(source, producer, "prism.audit.entries")
	err := r.drainOnce(context.Background())
	require.Error(t, err)

	assert.Empty(t, source.published, "rows must stay pending until the produce is acknowledged")
	n, _ := source.CountPending(context.Background())
	assert.Equal(t, 1, n)
}

func TestRelay_RespectsBatchSize(t *testing.T) {
	source := &fakeSource{}
	for range 25 {
		source.pending = append(source.pending, pendingRecord("user-a"))
	}
	producer := &fakeProducer{}

	r := New(source, producer, "prism.audit.entries", WithBatchSize(10))
	require.NoError(t, r.drainOnce(context.Background()))

	require.Len(t, producer.batches, 1)
	assert.Len(t, producer.batches[0], 10)

	n, _ := source.CountPending(context.Background())
	assert.Equal(t, 15, n)
}

func TestRelay_EmptyOutboxIsQuiet(t *testing.T) {
	source := &fakeSource{}
	producer := &fakeProducer{}
	gauge := &gaugeSpy{}

	r := New(source, producer, "prism.audit.entries", WithMetrics(gauge))
	require.NoError(t, r.drainOnce(context.Background()))

	assert.Empty(t, producer.batches, "nothing to publish")
	assert.True(t, gauge.set)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	source := &fakeSource{}
	producer := &fakeProducer{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(source, producer, "prism.audit.entries")
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
