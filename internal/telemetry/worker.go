package telemetry

import "context"

// run is the Handler's single background worker: it drains the bounded
// queue, accumulates a batch under h.mu, and flushes on whichever comes
// first, BatchSize records or MaxAge elapsed. It exits once the queue is
// closed and fully drained.
func (h *Handler) run() {
	defer h.wg.Done()
	timer := h.clock.NewTimer(h.cfg.MaxAge)
	defer timer.Stop()

	for {
		select {
		case rec, ok := <-h.queue:
			if !ok {
				h.flush()
				return
			}
			h.mu.Lock()
			h.batch = append(h.batch, rec)
			full := len(h.batch) >= h.cfg.BatchSize
			h.mu.Unlock()
			if full {
				h.flush()
				timer.Reset(h.cfg.MaxAge)
			}
		case <-timer.C():
			h.flush()
			timer.Reset(h.cfg.MaxAge)
		}
	}
}

// flush sends the current batch (if non-empty) and clears it. Send
// errors are logged and the batch is dropped rather than retried
// in-place, so the pipeline never applies unbounded backpressure onto
// producers.
func (h *Handler) flush() {
	h.mu.Lock()
	if len(h.batch) == 0 {
		h.mu.Unlock()
		return
	}
	batch := h.batch
	h.batch = nil
	h.mu.Unlock()

	if err := h.sender.Send(context.Background(), batch); err != nil {
		h.log.Warn("failed to send telemetry batch", "count", len(batch), "error", err)
	}
}
