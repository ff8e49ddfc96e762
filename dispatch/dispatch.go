// Package dispatch implements spec component C8, StreamDispatcher: copy
// each encoded packet once per registered consumer, push into per-consumer
// bounded queues, and drain each queue on an independent worker so a slow
// consumer can only ever throttle its own queue, never the fetch loop.
// Grounded on websocket/websocket.go's Hub (bounded per-client Send channel,
// Register/Unregister channels drained by a run loop) and webrtc/sfu.go's
// per-subscriber broadcast map, generalized from "close the slow client" to
// the spec's drop-oldest-with-counter policy.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/n0remac/netcam-core/errs"
	"github.com/n0remac/netcam-core/hwsession"
)

// EncodedPacket is an immutable, owned copy of one encoded frame. Every
// consumer receives its own EncodedPacket value with its own copy of Bytes.
type EncodedPacket struct {
	Bytes      []byte
	PTS        int64
	Sequence   uint64
	IsKeyframe bool
}

// Callback receives one packet. Must not block for long: it runs on the
// consumer's own worker, so a slow callback only delays that consumer.
type Callback func(EncodedPacket)

// ConsumerRegistration describes one consumer slot. QueueCapacity must be
// >= 1.
type ConsumerRegistration struct {
	Name          string
	Callback      Callback
	QueueCapacity int
}

// PacketSource is the narrow slice of Pipeline the dispatcher needs: the
// ability to pull the next encoded chunk, with the documented bounded
// wait/backoff already applied by the caller. pipeline.Pipeline satisfies
// this directly.
type PacketSource interface {
	PullPacket(timeout time.Duration, stop <-chan struct{}) (hwsession.EncodedChunk, error)
}

const fetchPullTimeout = 200 * time.Millisecond

type consumerSlot struct {
	name     string
	callback Callback
	queue    chan EncodedPacket

	mu     sync.Mutex
	drops  uint64

	stop chan struct{}
	done chan struct{}
}

func (s *consumerSlot) incDrops() {
	s.mu.Lock()
	s.drops++
	s.mu.Unlock()
}

func (s *consumerSlot) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

// Dispatcher is the live StreamDispatcher instance for one Pipeline.
type Dispatcher struct {
	log *slog.Logger

	mu       sync.Mutex
	slots    map[string]*consumerSlot
	pending  []ConsumerRegistration // registered before Start

	source PacketSource

	fetchStop chan struct{}
	fetchDone chan struct{}

	depthGauge *prometheus.GaugeVec
	dropsTotal *prometheus.CounterVec
}

// NewDispatcher constructs a Dispatcher bound to a packet source. Metrics
// may be nil in tests; production wiring passes the process's registered
// GaugeVec/CounterVec (netcam_consumer_queue_depth, netcam_consumer_drops_total).
func NewDispatcher(log *slog.Logger, depthGauge *prometheus.GaugeVec, dropsTotal *prometheus.CounterVec) *Dispatcher {
	return &Dispatcher{
		log:        log,
		slots:      make(map[string]*consumerSlot),
		depthGauge: depthGauge,
		dropsTotal: dropsTotal,
	}
}

// RegisterConsumer adds (or replaces) a consumer slot. If the dispatcher is
// already running, a worker is started for it immediately; otherwise it is
// buffered and attached on the next Start, matching PipelineManager's
// "consumers registered while no Pipeline exists are buffered" invariant.
func (d *Dispatcher) RegisterConsumer(reg ConsumerRegistration) error {
	if reg.QueueCapacity < 1 {
		return fmt.Errorf("dispatch: queue capacity must be >= 1: %w", errs.ErrResourceExhausted)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	slot := &consumerSlot{
		name:     reg.Name,
		callback: reg.Callback,
		queue:    make(chan EncodedPacket, reg.QueueCapacity),
	}
	d.slots[reg.Name] = slot

	if d.source == nil {
		d.pending = append(d.pending, reg)
		return nil
	}
	d.startConsumerWorker(slot)
	return nil
}

// Start begins the fetch loop plus one worker per already-registered
// consumer. Per the original stream_dispatcher.h ordering: consumer
// dispatch workers start before the fetch loop.
func (d *Dispatcher) Start(source PacketSource) {
	d.mu.Lock()
	d.source = source
	for _, slot := range d.slots {
		d.startConsumerWorker(slot)
	}
	d.fetchStop = make(chan struct{})
	d.fetchDone = make(chan struct{})
	d.mu.Unlock()

	go d.fetchLoop()
}

func (d *Dispatcher) startConsumerWorker(slot *consumerSlot) {
	slot.stop = make(chan struct{})
	slot.done = make(chan struct{})
	go d.consumerWorker(slot)
}

func (d *Dispatcher) fetchLoop() {
	defer close(d.fetchDone)
	for {
		select {
		case <-d.fetchStop:
			return
		default:
		}

		chunk, err := d.source.PullPacket(fetchPullTimeout, d.fetchStop)
		if err != nil {
			if d.fetchStop != nil {
				select {
				case <-d.fetchStop:
					return
				default:
				}
			}
			continue
		}

		pkt := EncodedPacket{
			Bytes:      append([]byte(nil), chunk.Bytes...),
			PTS:        chunk.PTS,
			Sequence:   chunk.Sequence,
			IsKeyframe: chunk.IsKeyframe,
		}
		d.pushToAll(pkt)
		// hardware packet is released implicitly here: chunk.Bytes is not
		// retained past this point, only our owned copy is.
	}
}

// pushToAll pushes a copy of pkt into every consumer's queue, dropping the
// oldest queued element and incrementing that consumer's counter when full.
func (d *Dispatcher) pushToAll(pkt EncodedPacket) {
	d.mu.Lock()
	slots := make([]*consumerSlot, 0, len(d.slots))
	for _, s := range d.slots {
		slots = append(slots, s)
	}
	d.mu.Unlock()

	for _, slot := range slots {
		own := pkt
		own.Bytes = append([]byte(nil), pkt.Bytes...)
		select {
		case slot.queue <- own:
		default:
			select {
			case <-slot.queue:
			default:
			}
			select {
			case slot.queue <- own:
			default:
			}
			slot.incDrops()
			if d.dropsTotal != nil {
				d.dropsTotal.WithLabelValues(slot.name).Inc()
			}
		}
		if d.depthGauge != nil {
			d.depthGauge.WithLabelValues(slot.name).Set(float64(len(slot.queue)))
		}
	}
}

func (d *Dispatcher) consumerWorker(slot *consumerSlot) {
	defer close(slot.done)
	for {
		select {
		case <-slot.stop:
			return
		case pkt, ok := <-slot.queue:
			if !ok {
				return
			}
			slot.callback(pkt)
		}
	}
}

// Stop stops and joins the fetch worker, then signals every consumer worker
// to stop and joins them, within ctx's deadline. The queues themselves are
// not closed; packets still queued when a worker stops are not delivered.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	fetchStop, fetchDone := d.fetchStop, d.fetchDone
	slots := make([]*consumerSlot, 0, len(d.slots))
	for _, s := range d.slots {
		slots = append(slots, s)
	}
	d.mu.Unlock()

	if fetchStop != nil {
		close(fetchStop)
		select {
		case <-fetchDone:
		case <-ctx.Done():
		}
	}

	for _, slot := range slots {
		if slot.stop != nil {
			close(slot.stop)
		}
	}
	for _, slot := range slots {
		if slot.done == nil {
			continue
		}
		select {
		case <-slot.done:
		case <-ctx.Done():
		}
	}
	return nil
}

// Status reports per-consumer queue depth and drop counts for the HTTP
// status surface.
type ConsumerStatus struct {
	Name  string
	Depth int
	Drops uint64
}

func (d *Dispatcher) Status() []ConsumerStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ConsumerStatus, 0, len(d.slots))
	for _, s := range d.slots {
		out = append(out, ConsumerStatus{Name: s.name, Depth: len(s.queue), Drops: s.Drops()})
	}
	return out
}
