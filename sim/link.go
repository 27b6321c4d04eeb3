package sim

// Packet is one data packet in flight between a sender and the bottleneck.
// Seq numbers are per-flow, cumulative, and never reused within a run.
type Packet struct {
	FlowID int
	Seq    uint64
	SentAt int64
}

// Link models the shared bottleneck: a single-server FIFO queue with a
// fixed service rate, a propagation delay covering the rest of the round
// trip, optional tail-drop capacity, and optional random per-delivery loss.
// A serviced packet returns to its sender as an ACK; there is no separate
// reverse path.
type Link struct {
	serviceTicks int64
	propTicks    int64
	capacity     int // queued packets, excluding the one in service; <= 0 means unbounded
	lossRate     float64

	queue []Packet
	busy  bool

	// Counters, read by RunSummary after the run.
	TailDrops    uint64
	RandomLosses uint64
	Delivered    uint64
}

func newLink(sc *Scenario) *Link {
	return &Link{
		serviceTicks: sc.serviceTicks(),
		propTicks:    sc.propagationTicks(),
		capacity:     sc.BufferPackets,
		lossRate:     sc.LossRate,
	}
}

// QueueDepth returns the number of packets waiting behind the one in
// service.
func (l *Link) QueueDepth() int { return len(l.queue) }

// offer presents a freshly sent packet to the bottleneck. If the server is
// idle it enters service immediately; otherwise it queues, or is tail-dropped
// when the buffer is full. Dropped packets vanish silently; the sender
// discovers them by timeout.
func (l *Link) offer(s *Simulator, pkt Packet, now int64) {
	if !l.busy {
		l.startService(s, pkt, now)
		return
	}
	if l.capacity > 0 && len(l.queue) >= l.capacity {
		l.TailDrops++
		s.Flows[pkt.FlowID].tailDropped++
		return
	}
	l.queue = append(l.queue, pkt)
}

func (l *Link) startService(s *Simulator, pkt Packet, now int64) {
	l.busy = true
	done := now + l.serviceTicks
	s.Schedule(s.newLinkDrainEvent(done))
	s.Schedule(s.newDeliveryEvent(done+l.propTicks, pkt))
}

// drain is the LinkDrainEvent handler: pull the next queued packet into
// service, or go idle.
func (l *Link) drain(s *Simulator, now int64) {
	if len(l.queue) == 0 {
		l.busy = false
		return
	}
	pkt := l.queue[0]
	l.queue = l.queue[1:]
	l.startService(s, pkt, now)
}
