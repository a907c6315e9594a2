package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"event-attach/internal/config"
	"event-attach/internal/metrics"
	"event-attach/internal/model"

	zlog "github.com/rs/zerolog/log"
)

var (
	// ErrQueueFull 는 Dispatcher 큐가 가득 차서 첨부를 버렸을 때 반환된다.
	ErrQueueFull = errors.New("store: dispatch queue full")
	// ErrDispatcherClosed 는 Shutdown 이후 Submit 했을 때 반환된다.
	ErrDispatcherClosed = errors.New("store: dispatcher closed")
)

const (
	backoffBase = 200 * time.Millisecond
	backoffMax  = 2 * time.Second

	// 한 번에 재전송하는 spool 파일 수. 새 첨부가 계속 들어와도 spool 이 굶지 않게 한다.
	spoolBatch = 3

	idleInterval = time.Second
)

type job struct {
	key     string
	body    []byte
	records int
}

// Dispatcher
// ------------------------------------------------------------
// 세션이 submit 한 첨부를 backend 로 보내는 파이프라인.
//
//   - Submit: 인코딩 + key 생성 후 큐에 넣는다. 절대 block 하지 않는다.
//   - loop:   큐에서 꺼내 retry/backoff 로 Put, 끝내 실패하면 spool 저장
//   - idle:   큐가 비어있으면 spool 을 최대 3건씩 재전송
//
// Shutdown 은 새 Submit 을 막고 큐에 남은 첨부를 모두 처리한 뒤 반환한다.
type Dispatcher struct {
	cfg     config.Config
	metrics *metrics.Metrics
	backend Backend
	spool   *Spool // nil 이면 spool 없이 drop

	queue chan job

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	now      func() time.Time
	backoff  time.Duration
}

func NewDispatcher(cfg config.Config, m *metrics.Metrics, backend Backend, spool *Spool) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		metrics: m,
		backend: backend,
		spool:   spool,
		queue:   make(chan job, cfg.DispatchQueue),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		backoff: backoffBase,
	}
}

// Start 는 전송 loop goroutine 을 띄운다.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Submit 은 첨부를 인코딩해서 큐에 넣는다.
// 큐가 가득 차면 기다리지 않고 버린다.
func (d *Dispatcher) Submit(p *model.AttachmentPayload) error {
	body, err := EncodePayload(p)
	if err != nil {
		return err
	}

	now := d.now()
	key := BuildKey(d.cfg.StorePrefix, now, p, NewFilename(d.cfg.InstanceID, now))

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- job{key: key, body: body, records: p.Metadata.Lines}:
		return nil
	default:
		atomic.AddInt64(&d.metrics.DispatchDroppedTotal, 1)
		zlog.Warn().Str("key", key).Msg("dispatch queue full, dropping attachment")
		return ErrQueueFull
	}
}

// Shutdown 은 큐를 닫고 남은 첨부를 처리할 때까지 기다린다.
// ctx 가 먼저 끝나면 진행 중인 Put 을 취소하고 반환한다.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
		err = ctx.Err()
	}

	d.cancel()
	if cerr := d.backend.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(idleInterval)
	defer ticker.Stop()

	for {
		select {
		case j, ok := <-d.queue:
			if !ok {
				zlog.Info().Msg("dispatcher exiting")
				return
			}
			d.process(j)
			d.replaySpool()

		case <-ticker.C:
			d.replaySpool()

		case <-d.ctx.Done():
			return
		}
	}
}

// process 는 첨부 1건을 전송하고, 실패하면 spool 에 남긴다.
func (d *Dispatcher) process(j job) {
	if err := d.deliver(d.ctx, j.key, j.body); err != nil {
		zlog.Warn().Err(err).Str("key", j.key).Msg("store put failed")
		if d.spool == nil {
			return
		}
		if err := d.spool.Save(j.key, j.body, j.records); err != nil {
			zlog.Error().Err(err).Str("key", j.key).Msg("spool save failed")
		}
		return
	}
	zlog.Debug().Str("key", j.key).Int("records", j.records).Msg("attachment stored")
}

func (d *Dispatcher) replaySpool() {
	if d.spool == nil {
		return
	}
	for i := 0; i < spoolBatch; i++ {
		if !d.spool.ProcessOne(d.ctx, d.deliver) {
			return
		}
	}
}

// deliver 는 backend.Put 을 최대 StoreRetries 번 시도한다.
//   - 시도마다 StoreTimeout
//   - 실패 사이 backoff 200ms → 2s
//   - ctx 취소 시 즉시 중단
func (d *Dispatcher) deliver(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := d.backoff

	for attempt := 1; attempt <= d.cfg.StoreRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := d.putOnce(ctx, key, body); err == nil {
			atomic.AddInt64(&d.metrics.StoreStoredTotal, 1)
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&d.metrics.StorePutErrorsTotal, 1)
		}

		if attempt == d.cfg.StoreRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
	}
	return lastErr
}

func (d *Dispatcher) putOnce(ctx context.Context, key string, body []byte) error {
	ctx2, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()
	return d.backend.Put(ctx2, key, body)
}
