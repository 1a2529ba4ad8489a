package index

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/engagelegal/intake-platform/internal/observability/metrics"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// Projector mirrors conversation snapshots into the tabular index. Enqueue is
// fire-and-forget: the authoritative write already committed, so projection
// failures are logged and counted but never surfaced to the caller.
type Projector struct {
	queue   queueClient
	store   *RowStore
	metrics *metrics.ProjectorMetrics
	logger  *logging.Logger
	tracer  trace.Tracer
	workers int
	clock   func() time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewProjector wires the queue to the row store. workers defaults to 2.
func NewProjector(queue queueClient, store *RowStore, m *metrics.ProjectorMetrics, logger *logging.Logger, workers int) *Projector {
	if queue == nil {
		panic("index: queue cannot be nil")
	}
	if store == nil {
		panic("index: row store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if workers <= 0 {
		workers = 2
	}
	return &Projector{
		queue:   queue,
		store:   store,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("index.projector"),
		workers: workers,
		clock:   time.Now,
	}
}

// Enqueue hands a snapshot to the projection pipeline. It never returns an
// error: a full queue or encode failure drops the snapshot, and the repair
// pass picks the row up later.
func (p *Projector) Enqueue(ctx context.Context, snap Snapshot) {
	body, err := encodePayload(snap)
	if err != nil {
		p.logger.Error("index sync dropped: encode failed",
			"firm_id", snap.FirmID, "session_id", snap.SessionID, "error", err)
		p.metrics.ObserveSync("encode_error")
		return
	}

	// The in-memory queue fails fast on a full buffer; the timeout only
	// bounds the SQS network call.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.queue.Send(sendCtx, body); err != nil {
		p.logger.Error("index sync dropped: enqueue failed",
			"firm_id", snap.FirmID, "session_id", snap.SessionID, "error", err)
		p.metrics.ObserveSync("enqueue_error")
		p.metrics.ObserveDropped()
		return
	}
	if mq, ok := p.queue.(*MemoryQueue); ok {
		p.metrics.SetQueueDepth(mq.Depth())
	}
}

// Start launches the worker goroutines. Stop shuts them down.
func (p *Projector) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	p.logger.Info("index projector started", "workers", p.workers)
}

// Stop waits for in-flight projections to finish.
func (p *Projector) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

func (p *Projector) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		msgs, err := p.queue.Receive(ctx, 10, 5)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("index projector receive failed", "error", err)
			p.metrics.ObserveSync("receive_error")
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			p.project(ctx, msg)
		}
	}
}

func (p *Projector) project(ctx context.Context, msg queueMessage) {
	ctx, span := p.tracer.Start(ctx, "index.project")
	defer span.End()

	snap, err := decodePayload(msg.Body)
	if err != nil {
		p.logger.Error("index sync dropped: bad payload", "message_id", msg.ID, "error", err)
		p.metrics.ObserveSync("decode_error")
		// poison message; delete so it does not loop forever
		p.deleteMessage(ctx, msg)
		return
	}

	start := p.clock()
	if err := p.store.Upsert(ctx, snap.Row(p.clock())); err != nil {
		p.logger.Error("index sync failed",
			"firm_id", snap.FirmID, "session_id", snap.SessionID, "error", err)
		p.metrics.ObserveSync("error")
		// leave the message for redelivery
		return
	}
	p.metrics.ObserveSync("ok")
	p.metrics.ObserveSyncLatency(p.clock().Sub(start).Seconds())
	p.deleteMessage(ctx, msg)
}

func (p *Projector) deleteMessage(ctx context.Context, msg queueMessage) {
	if err := p.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		p.logger.Warn("index projector failed to delete message", "message_id", msg.ID, "error", err)
	}
}
