package sim

// Event defines the interface for all simulation events.
// Each event has a Timestamp (in ticks), an EventID assigned at scheduling
// time (the deterministic tie-breaker for equal timestamps), and an Execute
// method that advances simulation state when invoked.
type Event interface {
	Timestamp() int64
	EventID() uint64
	Execute(*Simulator)
}

// SendEvent wakes a flow's sender so it can emit every packet its window
// and pacing currently allow.
type SendEvent struct {
	time int64
	id   uint64
	Flow *Flow
}

func (e *SendEvent) Timestamp() int64       { return e.time }
func (e *SendEvent) EventID() uint64        { return e.id }
func (e *SendEvent) Execute(sim *Simulator) { sim.handleSend(e.time, e.Flow) }

// LinkDrainEvent fires when the bottleneck finishes serving one packet and
// can pull the next from its queue.
type LinkDrainEvent struct {
	time int64
	id   uint64
}

func (e *LinkDrainEvent) Timestamp() int64       { return e.time }
func (e *LinkDrainEvent) EventID() uint64        { return e.id }
func (e *LinkDrainEvent) Execute(sim *Simulator) { sim.handleLinkDrain(e.time) }

// DeliveryEvent carries a serviced packet back to its sender as an ACK
// after the propagation delay. The packet may still be lost here if the
// link has a random loss rate.
type DeliveryEvent struct {
	time   int64
	id     uint64
	Packet Packet
}

func (e *DeliveryEvent) Timestamp() int64       { return e.time }
func (e *DeliveryEvent) EventID() uint64        { return e.id }
func (e *DeliveryEvent) Execute(sim *Simulator) { sim.handleDelivery(e.time, e.Packet) }

// TimeoutEvent fires when a flow has waited a full RTO without an ACK.
// Epoch guards staleness: any ACK or toggle after scheduling invalidates it.
type TimeoutEvent struct {
	time  int64
	id    uint64
	Flow  *Flow
	Epoch uint64
}

func (e *TimeoutEvent) Timestamp() int64       { return e.time }
func (e *TimeoutEvent) EventID() uint64        { return e.id }
func (e *TimeoutEvent) Execute(sim *Simulator) { sim.handleTimeout(e.time, e.Flow, e.Epoch) }

// FlowOnEvent re-enables a flow after an off period.
type FlowOnEvent struct {
	time int64
	id   uint64
	Flow *Flow
}

func (e *FlowOnEvent) Timestamp() int64       { return e.time }
func (e *FlowOnEvent) EventID() uint64        { return e.id }
func (e *FlowOnEvent) Execute(sim *Simulator) { sim.handleFlowOn(e.time, e.Flow) }

// FlowOffEvent disables a flow for an off period.
type FlowOffEvent struct {
	time int64
	id   uint64
	Flow *Flow
}

func (e *FlowOffEvent) Timestamp() int64       { return e.time }
func (e *FlowOffEvent) EventID() uint64        { return e.id }
func (e *FlowOffEvent) Execute(sim *Simulator) { sim.handleFlowOff(e.time, e.Flow) }
