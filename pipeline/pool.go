package pipeline

import (
	iface "KnifeDetServer/interface"
	"KnifeDetServer/logger"
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var restartDelay = 1 * time.Second

type JobPackage struct {
	image  []byte
	Result chan JobResult
}

type JobResult struct {
	Result *Result
	Err    error
}

// BatchItem is a processed upload; Position is its 0-based index in the request.
type BatchItem struct {
	Position int
	Result   *Result
}

type BatchFailure struct {
	Position int
	Err      error
}

// Batch holds the processed items in submission order and the skipped ones.
type Batch struct {
	Items  []BatchItem
	Failed []BatchFailure
}

// Pool runs pipelines on a fixed set of worker goroutines fed by a bounded
// JobQueue. A job that entered the queue always runs to completion.
type Pool struct {
	pipeline *Pipeline
	JobQueue chan JobPackage
	maxBatch int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(p *Pipeline, workersNum, maxBatch int) *Pool {
	if workersNum <= 0 {
		workersNum = 1
	}
	pool := &Pool{
		pipeline: p,
		JobQueue: make(chan JobPackage, workersNum),
		maxBatch: maxBatch,
	}
	pool.StartWorker(workersNum)
	return pool
}

func (pool *Pool) Pipeline() *Pipeline {
	return pool.pipeline
}

func (pool *Pool) StartWorker(workerNum int) {
	for i := 0; i < workerNum; i++ {
		pool.wg.Add(1)
		go pool.runWorker(i)
	}
}

func (pool *Pool) runWorker(workerID int) {
	defer pool.wg.Done()
	logger.Log().Info("worker created", zap.Int("Worker", workerID))
	for !pool.serve(workerID) {
		time.Sleep(restartDelay)
		logger.Log().Info("worker restarted", zap.Int("Worker", workerID))
	}
}

// serve drains JobQueue and reports true once it is closed. A panic fails the
// current job and reports false so runWorker starts over.
func (pool *Pool) serve(workerID int) (drained bool) {
	var current *JobPackage
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic, restarting", zap.Int("Worker", workerID), zap.Any("Panic", r), zap.Duration("Delay", restartDelay))
			if current != nil {
				current.Result <- JobResult{Err: fmt.Errorf("worker %d panic: %v", workerID, r)}
			}
			drained = false
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for job := range pool.JobQueue {
		current = &job
		res, err := pool.pipeline.ProcessBytes(job.image)
		job.Result <- JobResult{Result: res, Err: err}
		current = nil
	}
	return true
}

func (pool *Pool) enqueue(ctx context.Context, image []byte) (chan JobResult, error) {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	if pool.closed {
		return nil, iface.ErrPoolClosed
	}
	job := JobPackage{image: image, Result: make(chan JobResult, 1)}
	select {
	case pool.JobQueue <- job:
		return job.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit runs one image and waits for its result. Giving up via ctx does not
// cancel a job that is already queued.
func (pool *Pool) Submit(ctx context.Context, image []byte) (*Result, error) {
	ch, err := pool.enqueue(ctx, image)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.Result, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DetectBatch processes every image independently. Items that fail are
// skipped and listed in Failed; limit caps the batch size (0 uses the pool
// default).
func (pool *Pool) DetectBatch(ctx context.Context, images [][]byte, limit int) (*Batch, error) {
	if limit <= 0 {
		limit = pool.maxBatch
	}
	if limit > 0 && len(images) > limit {
		return nil, errors.Wrapf(iface.ErrBatchTooLarge, "%d images, limit is %d", len(images), limit)
	}

	pending := make([]chan JobResult, len(images))
	for i, image := range images {
		ch, err := pool.enqueue(ctx, image)
		if err != nil {
			return nil, err
		}
		pending[i] = ch
	}

	batch := &Batch{Items: make([]BatchItem, 0, len(images))}
	for i, ch := range pending {
		select {
		case r := <-ch:
			if r.Err != nil {
				logger.Log().Warn("batch item skipped", zap.Int("Position", i), zap.Error(r.Err))
				batch.Failed = append(batch.Failed, BatchFailure{Position: i, Err: r.Err})
				continue
			}
			batch.Items = append(batch.Items, BatchItem{Position: i, Result: r.Result})
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return batch, nil
}

// Close stops accepting work and waits for the workers to finish queued jobs.
func (pool *Pool) Close() {
	pool.mu.Lock()
	if pool.closed {
		pool.mu.Unlock()
		return
	}
	pool.closed = true
	close(pool.JobQueue)
	pool.mu.Unlock()
	pool.wg.Wait()
}
