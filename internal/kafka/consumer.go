package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
// Return ErrDrop untuk pesan yang memang harus dibuang (malformed) tanpa retry.
type Handler func(ctx context.Context, m kafka.Message) error

// ErrDrop: pesan rusak. Di-log + commit, jangan sampai block partition.
var ErrDrop = errors.New("drop message")

// DeadLetterFunc dipanggil setelah retry habis; pesan tetap di-commit
// supaya tidak requeue selamanya.
type DeadLetterFunc func(ctx context.Context, m kafka.Message, attempts int, err error)

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *zap.Logger

	// commitMu serialize tracker + commit: commit offset rendah tidak
	// boleh nyusul commit offset tinggi
	commitMu sync.Mutex
	track    *offsetTracker

	// retry per pesan, in-handler (log-based broker tidak punya requeue per pesan)
	MaxRetries   int
	RetryBackoff time.Duration
	DeadLetter   DeadLetterFunc
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	return newConsumer(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	}, workers, log)
}

// NewGroupConsumer: satu group subscribe beberapa topic sekaligus
// (dipakai aggregator yang observe semuanya).
func NewGroupConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	return newConsumer(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	}, workers, log)
}

func newConsumer(cfg kafka.ReaderConfig, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:            kafka.NewReader(cfg),
		workers:      workers,
		log:          log,
		track:        newOffsetTracker(),
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// Start: dispatcher + worker pool. Pesan di-shard per key (order_id) ke
// worker yang sama, jadi urutan per order tetap terjaga walau paralel.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	shards := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				c.process(ctx, m, h)
			}
		}(shards[i])
	}
	closeAll := func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}

	// fetch dengan reconnect backoff bounded; reader internal juga
	// re-join group sendiri, kita cuma jaga supaya loop tidak spin.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // loop jalan terus, interval saja yang dibatasi

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				closeAll()
				return nil
			default:
			}
			wait := bo.NextBackOff()
			c.log.Warn("fetch failed, reconnecting", zap.Error(err), zap.Duration("backoff", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				closeAll()
				return nil
			}
			continue
		}
		bo.Reset()

		c.commitMu.Lock()
		c.track.add(m)
		c.commitMu.Unlock()

		select {
		case shards[shardFor(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			closeAll()
			return nil
		}
	}
}

// process: sukses -> commit; ErrDrop -> log+commit; error lain -> retry
// bounded lalu dead-letter + commit. Loop consumer tidak pernah crash
// gara-gara satu pesan.
func (c *Consumer) process(ctx context.Context, m kafka.Message, h Handler) {
	attempts, err := Attempt(ctx, m, h, c.MaxRetries, c.RetryBackoff)
	switch {
	case err == nil:
	case errors.Is(err, ErrDrop):
		c.log.Warn("dropping malformed message",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
	default:
		c.log.Error("handler failed, dead-lettering",
			zap.String("topic", m.Topic),
			zap.ByteString("key", m.Key),
			zap.Int("attempts", attempts),
			zap.Error(err))
		if c.DeadLetter != nil {
			c.DeadLetter(ctx, m, attempts, err)
		}
	}
	c.commitMu.Lock()
	if safe, ok := c.track.complete(m); ok {
		if err := c.r.CommitMessages(ctx, safe); err != nil && ctx.Err() == nil {
			c.log.Error("commit failed", zap.Error(err))
		}
	}
	c.commitMu.Unlock()
}

// offsetTracker: shard paralel bikin pesan satu partition selesai tidak
// berurutan, sementara commit offset N menandai semua offset <= N ikut
// consumed. Commit cuma boleh maju ke offset terproses yang kontigu dari
// depan window -- commit lebih tinggi bisa menenggelamkan pesan yang
// masih in-flight di shard lain kalau proses crash.
type offsetTracker struct {
	parts map[string]*partitionWindow
}

type partitionWindow struct {
	window []kafka.Message // urutan fetch = urutan offset per partition
	done   map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: map[string]*partitionWindow{}}
}

func partitionKey(m kafka.Message) string {
	return fmt.Sprintf("%s/%d", m.Topic, m.Partition)
}

func (t *offsetTracker) add(m kafka.Message) {
	p := t.parts[partitionKey(m)]
	if p == nil {
		p = &partitionWindow{done: map[int64]bool{}}
		t.parts[partitionKey(m)] = p
	}
	p.window = append(p.window, m)
}

// complete: tandai m selesai, return pesan dengan offset aman tertinggi
// (semua offset di bawahnya sudah selesai juga).
func (t *offsetTracker) complete(m kafka.Message) (kafka.Message, bool) {
	p := t.parts[partitionKey(m)]
	if p == nil {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = true
	var safe kafka.Message
	ok := false
	for len(p.window) > 0 && p.done[p.window[0].Offset] {
		safe = p.window[0]
		delete(p.done, p.window[0].Offset)
		p.window = p.window[1:]
		ok = true
	}
	return safe, ok
}

// Attempt: jalankan handler maksimal 1 + maxRetries kali.
// ErrDrop dan ctx cancel tidak di-retry.
func Attempt(ctx context.Context, m kafka.Message, h Handler, maxRetries int, wait time.Duration) (attempts int, err error) {
	for attempts = 1; ; attempts++ {
		err = h(ctx, m)
		if err == nil || errors.Is(err, ErrDrop) || ctx.Err() != nil {
			return attempts, err
		}
		if attempts > maxRetries {
			return attempts, err
		}
		select {
		case <-time.After(wait * time.Duration(attempts)):
		case <-ctx.Done():
			return attempts, err
		}
	}
}

func shardFor(key []byte, n int) int {
	if len(key) == 0 || n == 1 {
		return 0
	}
	f := fnv.New32a()
	_, _ = f.Write(key)
	return int(f.Sum32() % uint32(n))
}
