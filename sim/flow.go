package sim

// ewmaWeight is the smoothing weight for all flow meters: each new sample
// contributes 1/8, matching the research CCA.
const ewmaWeight = 1.0 / 8.0

// EWMA smooths a series with exponential weighting. The first sample is
// taken directly; Value reports zero until then.
type EWMA struct {
	weight float64
	value  float64
	seen   bool
}

// NewEWMA creates an EWMA with the given per-sample weight in (0, 1].
func NewEWMA(weight float64) EWMA {
	return EWMA{weight: weight}
}

// Update folds one sample into the average.
func (e *EWMA) Update(v float64) {
	if !e.seen {
		e.value = v
		e.seen = true
		return
	}
	e.value = (1-e.weight)*e.value + e.weight*v
}

// Value returns the current average, or zero before the first sample.
func (e *EWMA) Value() float64 { return e.value }

// Seen reports whether at least one sample has been folded in.
func (e *EWMA) Seen() bool { return e.seen }

// Reset discards all history.
func (e *EWMA) Reset() {
	e.value = 0
	e.seen = false
}

// Flow is the per-sender state machine: congestion window, pacing, the
// smoothed statistics the policy observes, loss-recovery timers, and
// per-flow counters. Never shared across flows or simulators.
type Flow struct {
	ID      int
	enabled bool

	window         uint32
	intersendTicks int64

	packetsSent    uint64 // seq of the next packet to send
	ackedHighWater uint64 // every seq below this is acked or written off
	lastSendTime   int64
	nextSendReady  int64 // earliest tick pacing allows the next send
	sendPending    bool  // a SendEvent is already scheduled

	// Policy memory.
	ackEWMA           EWMA
	sendEWMA          EWMA
	lastAckTime       int64 // -1 before the first ACK
	lastAckedSendTime int64
	minRTTTicks       int64 // 0 before the first sample
	currentRTTTicks   int64

	// Loss recovery.
	srttTicks    EWMA
	timeoutEpoch uint64

	// Counters.
	delivered   uint64
	lost        uint64
	tailDropped uint64
	timeouts    uint64
	consults    uint64
	sumRTTTicks int64

	// Enabled-time accounting; throughput is measured over enabled time only.
	enabledAt    int64
	enabledTicks int64
}

func newFlow(id int) *Flow {
	f := &Flow{
		ID:        id,
		ackEWMA:   NewEWMA(ewmaWeight),
		sendEWMA:  NewEWMA(ewmaWeight),
		srttTicks: NewEWMA(ewmaWeight),
	}
	f.resetCCA()
	return f
}

// resetCCA restores the sender to its initial congestion state: window 1,
// unpaced, no timing history. Used at flow start and on re-enable.
func (f *Flow) resetCCA() {
	f.window = 1
	f.intersendTicks = 0
	f.ackEWMA.Reset()
	f.sendEWMA.Reset()
	f.srttTicks.Reset()
	f.lastAckTime = -1
	f.lastAckedSendTime = -1
	f.minRTTTicks = 0
	f.currentRTTTicks = 0
}

// Inflight returns the count of sent packets not yet acked or written off.
func (f *Flow) Inflight() uint64 {
	return f.packetsSent - f.ackedHighWater
}

// Window returns the current congestion window.
func (f *Flow) Window() uint32 { return f.window }

// Observation builds the policy input from the flow's current meters.
func (f *Flow) Observation() Observation {
	ratio := 1.0
	if f.minRTTTicks > 0 {
		ratio = float64(f.currentRTTTicks) / float64(f.minRTTTicks)
	}
	return Observation{
		AckEWMA:  f.ackEWMA.Value(),
		SendEWMA: f.sendEWMA.Value(),
		RTTRatio: ratio,
	}
}

// rto returns the current retransmission timeout in ticks: the configured
// initial RTO before any RTT sample exists, then multiplier x srtt floored
// at the configured minimum.
func (f *Flow) rto(sc *Scenario) int64 {
	if !f.srttTicks.Seen() {
		return sc.initialRTOTicks()
	}
	rto := int64(sc.RTO.Multiplier * f.srttTicks.Value())
	if min := sc.minRTOTicks(); rto < min {
		rto = min
	}
	return rto
}
