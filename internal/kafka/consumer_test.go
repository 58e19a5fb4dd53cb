package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestAttemptRetriesThenGivesUp(t *testing.T) {
	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		return errors.New("always fails")
	}

	attempts, err := Attempt(context.Background(), kafka.Message{}, h, 3, time.Millisecond)

	// 1 percobaan awal + 3 retry, lalu berhenti
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, calls)
	assert.Error(t, err)
}

func TestAttemptStopsOnSuccess(t *testing.T) {
	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}

	attempts, err := Attempt(context.Background(), kafka.Message{}, h, 3, time.Millisecond)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, err)
}

func TestAttemptDoesNotRetryDrop(t *testing.T) {
	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		return fmt.Errorf("%w: bad json", ErrDrop)
	}

	attempts, err := Attempt(context.Background(), kafka.Message{}, h, 3, time.Millisecond)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrDrop)
}

func TestAttemptStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		cancel()
		return errors.New("fail")
	}

	_, err := Attempt(ctx, kafka.Message{}, h, 3, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestOffsetTrackerCommitsOnlyContiguous(t *testing.T) {
	tr := newOffsetTracker()
	msg := func(off int64) kafka.Message {
		return kafka.Message{Topic: "orders", Partition: 0, Offset: off}
	}
	tr.add(msg(10))
	tr.add(msg(11))
	tr.add(msg(12))

	// offset tertinggi selesai duluan: belum boleh commit, 10-11 masih in-flight
	_, ok := tr.complete(msg(12))
	assert.False(t, ok)

	// offset terendah selesai: aman commit sampai 10 saja
	safe, ok := tr.complete(msg(10))
	assert.True(t, ok)
	assert.Equal(t, int64(10), safe.Offset)

	// sisa gap tertutup: langsung maju ke offset tertinggi
	safe, ok = tr.complete(msg(11))
	assert.True(t, ok)
	assert.Equal(t, int64(12), safe.Offset)
}

func TestOffsetTrackerIsolatesPartitions(t *testing.T) {
	tr := newOffsetTracker()
	p0 := kafka.Message{Topic: "orders", Partition: 0, Offset: 5}
	p1 := kafka.Message{Topic: "orders", Partition: 1, Offset: 9}
	tr.add(p0)
	tr.add(p1)

	safe, ok := tr.complete(p1)
	assert.True(t, ok)
	assert.Equal(t, 1, safe.Partition)
	assert.Equal(t, int64(9), safe.Offset)

	safe, ok = tr.complete(p0)
	assert.True(t, ok)
	assert.Equal(t, 0, safe.Partition)
	assert.Equal(t, int64(5), safe.Offset)
}

func TestShardForStableByKey(t *testing.T) {
	a := shardFor([]byte("order-1"), 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, shardFor([]byte("order-1"), 8))
	}
	assert.Equal(t, 0, shardFor(nil, 8))
	assert.Equal(t, 0, shardFor([]byte("x"), 1))
}
