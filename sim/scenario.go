package sim

import (
	"fmt"
	"math"
)

// TicksPerSecond fixes the simulation clock resolution: 1 tick = 1 µs.
const TicksPerSecond = 1_000_000

// SecondsToTicks converts a duration in seconds to clock ticks.
func SecondsToTicks(s float64) int64 {
	return int64(math.Round(s * TicksPerSecond))
}

// MillisToTicks converts a duration in milliseconds to clock ticks.
func MillisToTicks(ms float64) int64 {
	return int64(math.Round(ms * TicksPerSecond / 1000))
}

// TicksToMillis converts clock ticks to milliseconds.
func TicksToMillis(t int64) float64 {
	return float64(t) * 1000 / TicksPerSecond
}

// TicksToSeconds converts clock ticks to seconds.
func TicksToSeconds(t int64) float64 {
	return float64(t) / TicksPerSecond
}

// Default RTO parameters, used when the rto block is omitted.
const (
	defaultInitialRTOMillis = 1000.0
	defaultMinRTOMillis     = 10.0
	defaultRTOMultiplier    = 2.0
)

// OnOffSpec switches flows between sending and silent with exponentially
// distributed durations, one independent stream per flow.
type OnOffSpec struct {
	MeanOnSeconds  float64 `yaml:"mean_on_s"`
	MeanOffSeconds float64 `yaml:"mean_off_s"`
}

// RTOSpec tunes loss detection. A sender declares its in-flight packets
// lost after max(min_ms, multiplier x srtt) without an ACK (initial_ms
// before the first RTT sample).
type RTOSpec struct {
	InitialMillis float64 `yaml:"initial_ms,omitempty"`
	MinMillis     float64 `yaml:"min_ms,omitempty"`
	Multiplier    float64 `yaml:"multiplier,omitempty"`
}

// Scenario describes one network configuration the simulator scores a
// policy against: a shared bottleneck, competing flows, and a duration.
type Scenario struct {
	Name string `yaml:"name,omitempty"`

	// LinkRatePPS is the bottleneck service rate in packets per second.
	LinkRatePPS float64 `yaml:"link_rate_pps"`
	// RTTMillis is the propagation delay for the full round trip,
	// excluding queueing and service time.
	RTTMillis float64 `yaml:"rtt_ms"`
	// BufferPackets bounds the bottleneck queue (excluding the packet in
	// service). 0 or omitted means unbounded.
	BufferPackets int `yaml:"buffer_packets,omitempty"`
	// LossRate drops each delivery independently with this probability.
	LossRate float64 `yaml:"loss_rate,omitempty"`

	NumFlows        int     `yaml:"num_flows"`
	DurationSeconds float64 `yaml:"duration_s"`
	Seed            int64   `yaml:"seed"`

	OnOff *OnOffSpec `yaml:"on_off,omitempty"`
	RTO   RTOSpec    `yaml:"rto,omitempty"`
	// TimeoutPolicyConsult additionally consults the policy on every
	// timeout; by default the policy runs exactly once per ACK.
	TimeoutPolicyConsult bool `yaml:"timeout_policy_consult,omitempty"`

	Utility UtilitySpec `yaml:"utility,omitempty"`
}

// Normalize fills defaults for omitted optional fields. Callers that share
// a Scenario across goroutines must normalize before sharing; NewSimulator
// normalizes a private copy.
func (s *Scenario) Normalize() {
	if s.RTO.InitialMillis == 0 {
		s.RTO.InitialMillis = defaultInitialRTOMillis
	}
	if s.RTO.MinMillis == 0 {
		s.RTO.MinMillis = defaultMinRTOMillis
	}
	if s.RTO.Multiplier == 0 {
		s.RTO.Multiplier = defaultRTOMultiplier
	}
	if s.Utility.Preset == "" {
		s.Utility.Preset = UtilityProportional
	}
}

// Validate checks all scenario parameters. Every failure is a
// *SimulationError; the simulator rejects the scenario before scheduling
// any event.
func (s *Scenario) Validate() error {
	switch {
	case !finitePositive(s.LinkRatePPS):
		return &SimulationError{Reason: fmt.Sprintf("link_rate_pps must be positive and finite, got %g", s.LinkRatePPS)}
	case math.IsNaN(s.RTTMillis) || math.IsInf(s.RTTMillis, 0) || s.RTTMillis < 0:
		return &SimulationError{Reason: fmt.Sprintf("rtt_ms must be non-negative and finite, got %g", s.RTTMillis)}
	case s.BufferPackets < 0:
		return &SimulationError{Reason: fmt.Sprintf("buffer_packets must be non-negative (0 = unbounded), got %d", s.BufferPackets)}
	case math.IsNaN(s.LossRate) || s.LossRate < 0 || s.LossRate >= 1:
		return &SimulationError{Reason: fmt.Sprintf("loss_rate must be in [0, 1), got %g", s.LossRate)}
	case s.NumFlows < 1:
		return &SimulationError{Reason: fmt.Sprintf("num_flows must be at least 1, got %d", s.NumFlows)}
	case !finitePositive(s.DurationSeconds):
		return &SimulationError{Reason: fmt.Sprintf("duration_s must be positive and finite, got %g", s.DurationSeconds)}
	}
	if s.OnOff != nil {
		if !finitePositive(s.OnOff.MeanOnSeconds) || !finitePositive(s.OnOff.MeanOffSeconds) {
			return &SimulationError{Reason: fmt.Sprintf("on_off means must be positive and finite, got on=%g off=%g",
				s.OnOff.MeanOnSeconds, s.OnOff.MeanOffSeconds)}
		}
	}
	if !finitePositive(s.RTO.InitialMillis) || !finitePositive(s.RTO.MinMillis) || !finitePositive(s.RTO.Multiplier) {
		return &SimulationError{Reason: fmt.Sprintf("rto parameters must be positive and finite, got initial=%g min=%g multiplier=%g",
			s.RTO.InitialMillis, s.RTO.MinMillis, s.RTO.Multiplier)}
	}
	if err := s.Utility.Validate(); err != nil {
		return &SimulationError{Reason: err.Error()}
	}
	return nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func (s *Scenario) serviceTicks() int64 {
	t := int64(math.Round(TicksPerSecond / s.LinkRatePPS))
	if t < 1 {
		t = 1
	}
	return t
}

func (s *Scenario) propagationTicks() int64 { return MillisToTicks(s.RTTMillis) }
func (s *Scenario) horizonTicks() int64     { return SecondsToTicks(s.DurationSeconds) }
func (s *Scenario) initialRTOTicks() int64  { return MillisToTicks(s.RTO.InitialMillis) }
func (s *Scenario) minRTOTicks() int64      { return MillisToTicks(s.RTO.MinMillis) }

// ScenarioDistribution samples a battery of scenarios from per-parameter
// distributions. The battery is drawn once, up front, from the master
// seed: every candidate in every generation then faces the identical
// scenarios.
type ScenarioDistribution struct {
	Count int `yaml:"count"`

	LinkRatePPS     DistSpec  `yaml:"link_rate_pps"`
	RTTMillis       DistSpec  `yaml:"rtt_ms"`
	NumFlows        DistSpec  `yaml:"num_flows"`
	DurationSeconds DistSpec  `yaml:"duration_s"`
	BufferPackets   *DistSpec `yaml:"buffer_packets,omitempty"`
	LossRate        *DistSpec `yaml:"loss_rate,omitempty"`

	OnOff                *OnOffSpec  `yaml:"on_off,omitempty"`
	RTO                  RTOSpec     `yaml:"rto,omitempty"`
	TimeoutPolicyConsult bool        `yaml:"timeout_policy_consult,omitempty"`
	Utility              UtilitySpec `yaml:"utility,omitempty"`
}

// Sample draws the battery. Each scenario gets its own derived seed, so a
// battery is fully determined by the master seed and the distribution.
func (d *ScenarioDistribution) Sample(masterSeed int64) ([]Scenario, error) {
	if d.Count < 1 {
		return nil, &SimulationError{Reason: fmt.Sprintf("scenario distribution count must be at least 1, got %d", d.Count)}
	}
	samplers := make(map[string]ValueSampler)
	for name, spec := range map[string]*DistSpec{
		"link_rate_pps": &d.LinkRatePPS,
		"rtt_ms":        &d.RTTMillis,
		"num_flows":     &d.NumFlows,
		"duration_s":    &d.DurationSeconds,
		"buffer_packets": d.BufferPackets,
		"loss_rate":      d.LossRate,
	} {
		if spec == nil {
			continue
		}
		sampler, err := NewValueSampler(*spec)
		if err != nil {
			return nil, fmt.Errorf("scenario distribution %s: %w", name, err)
		}
		samplers[name] = sampler
	}

	rng := NewPartitionedRNG(NewSimulationKey(masterSeed)).ForSubsystem(SubsystemBattery)
	scenarios := make([]Scenario, 0, d.Count)
	for i := 0; i < d.Count; i++ {
		sc := Scenario{
			Name:                 fmt.Sprintf("sampled_%03d", i),
			LinkRatePPS:          samplers["link_rate_pps"].Sample(rng),
			RTTMillis:            samplers["rtt_ms"].Sample(rng),
			NumFlows:             atLeastOne(samplers["num_flows"].Sample(rng)),
			DurationSeconds:      samplers["duration_s"].Sample(rng),
			Seed:                 DeriveSeed(masterSeed, fmt.Sprintf("scenario_%d", i)),
			OnOff:                d.OnOff,
			RTO:                  d.RTO,
			TimeoutPolicyConsult: d.TimeoutPolicyConsult,
			Utility:              d.Utility,
		}
		if s, ok := samplers["buffer_packets"]; ok {
			sc.BufferPackets = int(math.Round(s.Sample(rng)))
		}
		if s, ok := samplers["loss_rate"]; ok {
			sc.LossRate = s.Sample(rng)
		}
		sc.Normalize()
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("sampled scenario %d: %w", i, err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

func atLeastOne(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}
