package stack

import (
	"context"
)

// SpawnBuffer decouples the caller's readiness from the callee's by
// running calls through a bounded, oldest-in-first-out queue of capacity
// cap — spec §4.1's spawn_buffer(cap). When the queue is full the caller
// observes not-ready.
func SpawnBuffer[Req, Resp any](ctx context.Context, inner Service[Req, Resp], capacity int) Service[Req, Resp] {
	b := &spawnBuffer[Req, Resp]{
		inner: inner,
		queue: make(chan spawnBufferJob[Req, Resp], capacity),
		done:  ctx.Done(),
	}
	go b.run(ctx)
	return b
}

type spawnBufferJob[Req, Resp any] struct {
	ctx   context.Context
	req   Req
	reply chan spawnBufferResult[Resp]
}

type spawnBufferResult[Resp any] struct {
	resp Resp
	err  error
}

type spawnBuffer[Req, Resp any] struct {
	inner Service[Req, Resp]
	queue chan spawnBufferJob[Req, Resp]
	done  <-chan struct{}
}

func (b *spawnBuffer[Req, Resp]) run(ctx context.Context) {
	for {
		select {
		case job := <-b.queue:
			resp, err := b.inner.Call(job.ctx, job.req)
			job.reply <- spawnBufferResult[Resp]{resp: resp, err: err}
		case <-ctx.Done():
			return
		}
	}
}

func (b *spawnBuffer[Req, Resp]) Ready(ctx context.Context) error {
	select {
	case <-b.done:
		return ctx.Err()
	default:
	}
	if len(b.queue) >= cap(b.queue) {
		return ErrNotReady
	}
	return nil
}

func (b *spawnBuffer[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	reply := make(chan spawnBufferResult[Resp], 1)
	job := spawnBufferJob[Req, Resp]{ctx: ctx, req: req, reply: reply}
	select {
	case b.queue <- job:
	case <-ctx.Done():
		var zero Resp
		return zero, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.resp, res.err
	case <-ctx.Done():
		var zero Resp
		return zero, ctx.Err()
	}
}
