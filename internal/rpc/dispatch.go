package rpc

import (
	"context"
	"sync"

	"github.com/heliumdb/helium/internal/errs"
)

// job is one decoded frame waiting to be handed to a registered handler.
type job struct {
	ctx     context.Context
	service string
	payload []byte
	respond func([]byte, error)
}

// Dispatcher is the work-stealing-ish pool decoded frames are handed to
// per spec.md §4.5 ("decoded frames are dispatched to a work-stealing
// pool; handlers execute in parallel per connection"). It is the
// teacher's WorkerPool (pkg/database/worker_pool.go) generalized from a
// fixed Task interface to a registry lookup plus a response callback, and
// from "fire and forget" tasks to request/response jobs.
type Dispatcher struct {
	registry *Registry

	queue  chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher starts numWorkers goroutines pulling from a queue of
// bounded size queueSize.
func NewDispatcher(registry *Registry, numWorkers, queueSize int) *Dispatcher {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		registry: registry,
		queue:    make(chan job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < numWorkers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case j, ok := <-d.queue:
			if !ok {
				return
			}
			payload, err := d.invoke(j)
			j.respond(payload, err)
		}
	}
}

func (d *Dispatcher) invoke(j job) ([]byte, error) {
	h, ok := d.registry.Lookup(j.service)
	if !ok {
		return nil, errs.New(errs.KindCommunication, errs.SubCorruptMessage, "unknown service \""+j.service+"\"")
	}
	return h(j.ctx, j.payload)
}

// Submit enqueues a decoded frame for execution, calling respond with its
// result once a worker picks it up. It returns false if the queue is full
// or the dispatcher has been shut down, in which case the caller is
// responsible for surfacing a busy/backpressure signal upstream.
func (d *Dispatcher) Submit(ctx context.Context, service string, payload []byte, respond func([]byte, error)) bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
	}
	select {
	case d.queue <- job{ctx: ctx, service: service, payload: payload, respond: respond}:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting new work, waits for in-flight jobs to
// complete, and discards anything still queued.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.wg.Wait()
}
