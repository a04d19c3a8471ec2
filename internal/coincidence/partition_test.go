package coincidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitions(t *testing.T) {
	assert.Equal(t, []Partition{{0, 10}, {10, 20}, {20, 25}}, Partitions(0, 25, 10))
	assert.Equal(t, []Partition{{5, 7}}, Partitions(5, 7, 0))
	assert.Equal(t, []Partition{{5, 5}}, Partitions(5, 5, 10))
}

func TestSearchPartitions_ConcatenatesInOrder(t *testing.T) {
	parts := []Partition{{0, 150}, {150, 300}}

	sink := &MemorySink{}
	sum, err := SearchPartitions(context.Background(), referenceProvider(), sink, parts, Options{Window: 6}, 2)
	require.NoError(t, err)

	require.Len(t, sink.Records, 3)
	for i, r := range sink.Records {
		assert.Equal(t, int64(i), r.ID)
	}
	assert.Equal(t, int64(0), sink.Records[0].Timestamp)
	assert.Equal(t, int64(10), sink.Records[1].Timestamp)
	assert.Equal(t, int64(250), sink.Records[2].Timestamp)
	assert.Equal(t, 8, sum.Events)
	assert.Equal(t, int64(0), sum.FirstTimestamp)
	assert.Equal(t, int64(251), sum.LastTimestamp)
	assert.Equal(t, sum, sink.Summary)
}

func TestSearchPartitions_MatchesSingleSearchForQuietBoundaries(t *testing.T) {
	whole := &MemorySink{}
	_, err := Search(context.Background(), referenceProvider(), whole, Options{Window: 6})
	require.NoError(t, err)

	split := &MemorySink{}
	_, err = SearchPartitions(context.Background(), referenceProvider(), split,
		Partitions(0, 300, 50), Options{Window: 6}, 4)
	require.NoError(t, err)

	assert.Equal(t, whole.Records, split.Records)
}

func TestSearchPartitions_MaxCoincidences(t *testing.T) {
	sink := &MemorySink{}
	sum, err := SearchPartitions(context.Background(), referenceProvider(), sink,
		[]Partition{{0, 150}, {150, 300}}, Options{Window: 6, MaxCoincidences: 2}, 1)
	require.NoError(t, err)
	assert.True(t, sum.Truncated)
	assert.Len(t, sink.Records, 2)
}

func TestSearchPartitions_PropagatesErrors(t *testing.T) {
	_, err := SearchPartitions(context.Background(), failingProvider{ErrNoStreams}, &MemorySink{},
		Partitions(0, 100, 10), Options{}, 3)
	assert.ErrorIs(t, err, ErrNoStreams)
}

// gatedProvider holds back the partition starting at gate until release is
// closed.
type gatedProvider struct {
	StaticProvider
	gate    int64
	release chan struct{}
}

func (g gatedProvider) Streams(ctx context.Context, q Query) ([]EventStream, error) {
	if q.Start == g.gate {
		select {
		case <-g.release:
		case <-time.After(5 * time.Second):
			return nil, errors.New("earlier partition was not written")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.StaticProvider.Streams(ctx, q)
}

func TestSearchPartitions_WritesEarlyPartitionsFirst(t *testing.T) {
	p := gatedProvider{StaticProvider: referenceProvider(), gate: 150, release: make(chan struct{})}
	var ids []int64
	sink := SinkFunc(func(_ context.Context, r Record) error {
		if len(ids) == 0 {
			close(p.release)
		}
		ids = append(ids, r.ID)
		return nil
	})

	sum, err := SearchPartitions(context.Background(), p, sink, []Partition{{0, 150}, {150, 300}}, Options{Window: 6}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, ids)
	assert.Equal(t, 3, sum.Coincidences)
}

func TestSearchPartitions_StopsOnSinkError(t *testing.T) {
	boom := errors.New("disk full")
	var writes int
	sink := SinkFunc(func(context.Context, Record) error {
		writes++
		return boom
	})
	_, err := SearchPartitions(context.Background(), referenceProvider(), sink, Partitions(0, 300, 50), Options{Window: 6}, 3)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, writes)
}
