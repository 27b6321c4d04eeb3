package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Simulator runs one scenario: competing senders, the shared bottleneck,
// and the event loop that advances them. Single-threaded; all randomness
// comes from PartitionedRNG streams derived from the scenario seed, so a
// run is fully determined by (scenario, policy).
type Simulator struct {
	Scenario *Scenario
	Policy   Policy

	EventQueue *EventHeap
	Clock      int64
	Horizon    int64

	RNG   *PartitionedRNG
	Link  *Link
	Flows []*Flow

	nextEventID     uint64
	eventsProcessed uint64
	policyConsults  uint64
	runErr          error
	finished        bool
}

// NewSimulator validates the scenario and builds the initial state. The
// scenario is copied and normalized privately, so one Scenario value can
// back many concurrent simulators. Validation happens before any event is
// scheduled; an invalid scenario processes zero events.
func NewSimulator(sc *Scenario, policy Policy) (*Simulator, error) {
	if sc == nil {
		return nil, &SimulationError{Reason: "scenario is nil"}
	}
	if policy == nil {
		return nil, fmt.Errorf("policy must not be nil")
	}
	own := *sc
	own.Normalize()
	if err := own.Validate(); err != nil {
		return nil, err
	}

	s := &Simulator{
		Scenario:   &own,
		Policy:     policy,
		EventQueue: NewEventHeap(),
		Horizon:    own.horizonTicks(),
		RNG:        NewPartitionedRNG(NewSimulationKey(own.Seed)),
	}
	s.Link = newLink(&own)

	s.Flows = make([]*Flow, own.NumFlows)
	for i := range s.Flows {
		f := newFlow(i)
		f.enabled = true
		s.Flows[i] = f
		s.scheduleSend(0, f)
		if own.OnOff != nil {
			s.Schedule(s.newFlowOffEvent(s.togglerTicks(f, own.OnOff.MeanOnSeconds), f))
		}
	}
	return s, nil
}

// Run drains the event loop until the horizon. Returns the run summary, or
// the first policy error encountered (a DomainError during training is
// fatal, never clamped away).
func (s *Simulator) Run() (*RunSummary, error) {
	if s.finished {
		return nil, fmt.Errorf("simulator already ran; build a new one per run")
	}
	s.finished = true

	for s.EventQueue.Len() > 0 {
		event := s.EventQueue.PopNext()

		// Check horizon
		if event.Timestamp() > s.Horizon {
			break
		}

		// Clock monotonicity
		if event.Timestamp() < s.Clock {
			panic(fmt.Sprintf("clock went backwards: %d < %d", event.Timestamp(), s.Clock))
		}
		s.Clock = event.Timestamp()

		event.Execute(s)
		s.eventsProcessed++

		if s.runErr != nil {
			return nil, s.runErr
		}
	}

	s.closeEnabledWindows()
	logrus.Debugf("[sim %s] done: %d events, %d delivered, %d tail drops, %d random losses",
		s.Scenario.Name, s.eventsProcessed, s.Link.Delivered, s.Link.TailDrops, s.Link.RandomLosses)
	return s.summary(), nil
}

// EventsProcessed reports how many events the loop has executed.
func (s *Simulator) EventsProcessed() uint64 { return s.eventsProcessed }

// Schedule adds an event to the event queue.
func (s *Simulator) Schedule(e Event) {
	s.EventQueue.Schedule(e)
}

// newEventID generates the next event ID: the deterministic tie-breaker
// for events scheduled at the same tick.
func (s *Simulator) newEventID() uint64 {
	s.nextEventID++
	return s.nextEventID
}

func (s *Simulator) newSendEvent(t int64, f *Flow) *SendEvent {
	return &SendEvent{time: t, id: s.newEventID(), Flow: f}
}

func (s *Simulator) newLinkDrainEvent(t int64) *LinkDrainEvent {
	return &LinkDrainEvent{time: t, id: s.newEventID()}
}

func (s *Simulator) newDeliveryEvent(t int64, pkt Packet) *DeliveryEvent {
	return &DeliveryEvent{time: t, id: s.newEventID(), Packet: pkt}
}

func (s *Simulator) newTimeoutEvent(t int64, f *Flow) *TimeoutEvent {
	return &TimeoutEvent{time: t, id: s.newEventID(), Flow: f, Epoch: f.timeoutEpoch}
}

func (s *Simulator) newFlowOnEvent(t int64, f *Flow) *FlowOnEvent {
	return &FlowOnEvent{time: t, id: s.newEventID(), Flow: f}
}

func (s *Simulator) newFlowOffEvent(t int64, f *Flow) *FlowOffEvent {
	return &FlowOffEvent{time: t, id: s.newEventID(), Flow: f}
}

// scheduleSend queues a sender wakeup, collapsing duplicates.
func (s *Simulator) scheduleSend(t int64, f *Flow) {
	if f.sendPending {
		return
	}
	f.sendPending = true
	s.Schedule(s.newSendEvent(t, f))
}

// armTimeout schedules loss detection at the flow's current RTO. Stale
// timers are not descheduled; they die against the flow's epoch counter.
func (s *Simulator) armTimeout(t int64, f *Flow) {
	s.Schedule(s.newTimeoutEvent(t+f.rto(s.Scenario), f))
}

// togglerTicks draws an exponential on/off duration from the flow's own
// stream, at least one tick so same-tick toggle loops cannot occur.
func (s *Simulator) togglerTicks(f *Flow, meanSeconds float64) int64 {
	rng := s.RNG.ForSubsystem(SubsystemToggler(f.ID))
	d := SecondsToTicks(rng.ExpFloat64() * meanSeconds)
	if d < 1 {
		d = 1
	}
	return d
}

// === Event handlers ===

// handleSend emits every packet the window and pacing currently allow,
// then re-arms the pacing gate if the window still has room.
func (s *Simulator) handleSend(t int64, f *Flow) {
	f.sendPending = false
	if !f.enabled {
		return
	}
	for f.Inflight() < uint64(f.window) && t >= f.nextSendReady {
		s.sendPacket(t, f)
	}
	if f.Inflight() < uint64(f.window) {
		// Pacing gate: nextSendReady is strictly in the future here.
		s.scheduleSend(f.nextSendReady, f)
	}
}

func (s *Simulator) sendPacket(t int64, f *Flow) {
	pkt := Packet{FlowID: f.ID, Seq: f.packetsSent, SentAt: t}
	f.packetsSent++
	f.lastSendTime = t
	f.nextSendReady = t + f.intersendTicks
	if f.Inflight() == 1 {
		s.armTimeout(t, f)
	}
	s.Link.offer(s, pkt, t)
}

func (s *Simulator) handleLinkDrain(t int64) {
	s.Link.drain(s, t)
}

// handleDelivery is the ACK path: update the flow's meters, consult the
// policy exactly once, apply the action, and re-arm loss detection.
func (s *Simulator) handleDelivery(t int64, pkt Packet) {
	f := s.Flows[pkt.FlowID]

	if s.Link.lossRate > 0 && s.RNG.ForSubsystem(SubsystemLink).Float64() < s.Link.lossRate {
		s.Link.RandomLosses++
		logrus.Debugf("[sim %s] flow %d seq %d lost in transit at tick %d", s.Scenario.Name, f.ID, pkt.Seq, t)
		return
	}
	s.Link.Delivered++

	// Stale ACKs: packets sent before a timeout write-off or a toggle
	// reset are ignored, as are deliveries to a disabled flow.
	if !f.enabled || pkt.Seq < f.ackedHighWater {
		return
	}

	rtt := t - pkt.SentAt
	f.currentRTTTicks = rtt
	if f.minRTTTicks == 0 || rtt < f.minRTTTicks {
		f.minRTTTicks = rtt
	}
	f.srttTicks.Update(float64(rtt))
	if f.lastAckTime >= 0 {
		f.ackEWMA.Update(TicksToMillis(t - f.lastAckTime))
		f.sendEWMA.Update(TicksToMillis(pkt.SentAt - f.lastAckedSendTime))
	}
	f.lastAckTime = t
	f.lastAckedSendTime = pkt.SentAt
	f.ackedHighWater = pkt.Seq + 1
	f.delivered++
	f.sumRTTTicks += rtt
	f.timeoutEpoch++

	action, err := s.consultPolicy(f)
	if err != nil {
		s.runErr = err
		return
	}
	f.window = action.Apply(f.window)
	f.intersendTicks = SecondsToTicks(action.IntersendSeconds)
	if f.intersendTicks < 0 {
		f.intersendTicks = 0
	}

	if f.Inflight() > 0 || f.window == 0 {
		s.armTimeout(t, f)
	}
	if f.Inflight() < uint64(f.window) {
		s.scheduleSend(t, f)
	}
}

// handleTimeout is loss recovery: write off everything in flight, reset to
// the initial window like the research CCA's re-enable path, and resume.
// A timeout with a zero window and nothing in flight is the probe that
// keeps the sender live after a policy shrinks it to nothing.
func (s *Simulator) handleTimeout(t int64, f *Flow, epoch uint64) {
	if !f.enabled || epoch != f.timeoutEpoch {
		return
	}
	inflight := f.Inflight()
	if inflight == 0 && f.window > 0 {
		return
	}
	f.timeoutEpoch++
	f.timeouts++
	if inflight > 0 {
		f.lost += inflight
		f.ackedHighWater = f.packetsSent
	}
	logrus.Debugf("[sim %s] flow %d timeout at tick %d: %d written off", s.Scenario.Name, f.ID, t, inflight)

	if s.Scenario.TimeoutPolicyConsult {
		action, err := s.consultPolicy(f)
		if err != nil {
			s.runErr = err
			return
		}
		f.window = action.Apply(f.window)
		f.intersendTicks = SecondsToTicks(action.IntersendSeconds)
		if f.intersendTicks < 0 {
			f.intersendTicks = 0
		}
		if f.window == 0 {
			f.window = 1
		}
	} else {
		f.window = 1
		f.intersendTicks = 0
	}
	f.nextSendReady = t
	s.scheduleSend(t, f)
}

func (s *Simulator) handleFlowOn(t int64, f *Flow) {
	logrus.Debugf("[sim %s] flow %d on at tick %d", s.Scenario.Name, f.ID, t)
	f.enabled = true
	f.enabledAt = t
	f.resetCCA()
	f.ackedHighWater = f.packetsSent
	f.timeoutEpoch++
	f.nextSendReady = t
	s.scheduleSend(t, f)
	s.Schedule(s.newFlowOffEvent(t+s.togglerTicks(f, s.Scenario.OnOff.MeanOnSeconds), f))
}

func (s *Simulator) handleFlowOff(t int64, f *Flow) {
	logrus.Debugf("[sim %s] flow %d off at tick %d", s.Scenario.Name, f.ID, t)
	f.enabled = false
	f.enabledTicks += t - f.enabledAt
	// In-flight packets are abandoned, not counted as losses: the flow
	// restarts from scratch when it comes back.
	f.ackedHighWater = f.packetsSent
	f.timeoutEpoch++
	s.Schedule(s.newFlowOnEvent(t+s.togglerTicks(f, s.Scenario.OnOff.MeanOffSeconds), f))
}

func (s *Simulator) consultPolicy(f *Flow) (Action, error) {
	f.consults++
	s.policyConsults++
	action, err := s.Policy.Act(f.Observation(), f.window)
	if err != nil {
		return Action{}, fmt.Errorf("flow %d policy consult at tick %d: %w", f.ID, s.Clock, err)
	}
	return action, nil
}

// closeEnabledWindows charges still-enabled flows for the time up to the
// horizon, so throughput denominators cover the whole run.
func (s *Simulator) closeEnabledWindows() {
	for _, f := range s.Flows {
		if f.enabled {
			f.enabledTicks += s.Horizon - f.enabledAt
			f.enabledAt = s.Horizon
		}
	}
}

func (s *Simulator) summary() *RunSummary {
	summary := &RunSummary{
		Scenario:        s.Scenario.Name,
		Flows:           make([]FlowSummary, len(s.Flows)),
		EventsProcessed: s.eventsProcessed,
		ClockTicks:      s.Horizon,
		Delivered:       s.Link.Delivered,
		TailDrops:       s.Link.TailDrops,
		RandomLosses:    s.Link.RandomLosses,
		PolicyConsults:  s.policyConsults,
	}
	for i, f := range s.Flows {
		fs := FlowSummary{
			FlowID:         f.ID,
			Sent:           f.packetsSent,
			Delivered:      f.delivered,
			Lost:           f.lost,
			Timeouts:       f.timeouts,
			EnabledSeconds: TicksToSeconds(f.enabledTicks),
		}
		if fs.EnabledSeconds > 0 {
			fs.Throughput = float64(f.delivered) / fs.EnabledSeconds
		}
		if f.delivered > 0 {
			fs.MeanRTTMillis = TicksToMillis(f.sumRTTTicks) / float64(f.delivered)
		}
		if f.packetsSent > 0 {
			fs.LossRate = float64(f.lost) / float64(f.packetsSent)
		}
		summary.Flows[i] = fs
	}
	return summary
}

// Evaluate builds a simulator, runs the scenario, and reduces the outcome
// to a fitness score with the scenario's utility function. This is the
// search engine's oracle call.
func Evaluate(sc *Scenario, policy Policy) (float64, *RunSummary, error) {
	sim, err := NewSimulator(sc, policy)
	if err != nil {
		return 0, nil, err
	}
	utility, err := sim.Scenario.Utility.Build()
	if err != nil {
		return 0, nil, err
	}
	summary, err := sim.Run()
	if err != nil {
		return 0, nil, err
	}
	return ScoreRun(utility, summary), summary, nil
}
