package queue

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/metrics"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

// Job is a unit of work run by a dispatcher worker.
type Job func(ctx context.Context)

type task struct {
	key string
	run Job
}

// Dispatcher routes jobs to a fixed set of workers using consistent hashing on
// a key, guaranteeing that jobs sharing a key run one at a time in the order
// they were dispatched.
type Dispatcher struct {
	workers []chan task
	log     zerolog.Logger
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan task, numWorkers),
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan task, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
}

// Dispatch queues job on the worker responsible for key. The call blocks only
// when that worker's buffer is full.
func (d *Dispatcher) Dispatch(key string, job Job) {
	idx := d.shardIndex(key)
	d.workers[idx] <- task{key: key, run: job}
	metrics.DispatchQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan task) {
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			metrics.DispatchQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			d.run(ctx, id, t)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, id int, t task) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Str("key", t.key).
				Int("worker_id", id).
				Msg("dispatched job panicked")
		}
	}()
	t.run(ctx)
}
