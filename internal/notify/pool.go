package notify

import (
	"context"
	"sync"
	"time"
)

type deliveryJob struct {
	ctx     context.Context
	sub     Subscription
	payload Payload
	done    func(sub Subscription, err error)
}

// deliveryPool runs a fixed number of workers over a buffered delivery
// queue. Workers exit when the queue is closed; in-flight sends are
// bounded by the per-delivery timeout.
type deliveryPool struct {
	workers   int
	jobs      chan deliveryJob
	transport Transport
	timeout   time.Duration
	wg        sync.WaitGroup
}

func newDeliveryPool(workers, bufferSize int, transport Transport, timeout time.Duration) *deliveryPool {
	return &deliveryPool{
		workers:   workers,
		jobs:      make(chan deliveryJob, bufferSize),
		transport: transport,
		timeout:   timeout,
	}
}

func (p *deliveryPool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *deliveryPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(job)
	}
}

func (p *deliveryPool) process(job deliveryJob) {
	ctx, cancel := context.WithTimeout(job.ctx, p.timeout)
	defer cancel()

	err := p.transport.Send(ctx, job.sub.Endpoint, job.payload)
	job.done(job.sub, err)
}

func (p *deliveryPool) submit(job deliveryJob) {
	p.jobs <- job
}

func (p *deliveryPool) stop() {
	close(p.jobs)
	p.wg.Wait()
}
