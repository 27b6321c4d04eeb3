package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemLink is the RNG subsystem for the bottleneck's random
	// per-delivery loss draws.
	SubsystemLink = "link"

	// SubsystemBattery is the RNG subsystem for sampling scenario
	// parameters when a battery is drawn from distributions.
	SubsystemBattery = "battery"
)

// SubsystemToggler returns the subsystem name for flow N's on/off process.
// Per-flow streams keep one flow's toggle history independent of how many
// draws the others make.
func SubsystemToggler(flowID int) string {
	return fmt.Sprintf("toggler_%d", flowID)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per
// subsystem.
//
// Derivation formula: masterSeed XOR fnv1a64(subsystemName).
//
// Thread-safety: NOT thread-safe. Must be called from a single goroutine;
// each simulator owns its own instance.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named
// subsystem. The same subsystem name always returns the same *rand.Rand
// instance (cached). Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(DeriveSeed(int64(p.key), name)))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// DeriveSeed maps a master seed and a stream name to an independent seed.
// The trainer uses it to give every candidate its own mutation stream and
// every sampled scenario its own simulation seed.
func DeriveSeed(master int64, name string) int64 {
	return master ^ fnv1a64(name)
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
