// Package sim provides the discrete-event flow simulator that scores
// congestion-control policies, plus the core types shared by every other
// package in the module.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - types.go: Observation, Action, and the observation-space boxes policies partition
//   - event.go: Event types that drive the simulation (Send, Delivery, Timeout, toggles)
//   - simulator.go: The event loop, per-flow ACK handling, and loss recovery
//
// # Architecture
//
// The sim package defines the Policy interface and the fitness machinery;
// policy implementations and the search loop live in sub-packages:
//   - sim/whisker/: the whisker-tree policy (spatial partition of the
//     observation space), its serialization codec, and counting/override views
//   - sim/linear/: the continuous-parameter policy (affine model)
//   - sim/trainer/: the generational search engine driving the simulator
//   - sim/bridge/: the handle registry behind the C-callable action bridge
//
// # Key Interfaces
//
//   - Policy: map an Observation and the current congestion window to an Action
//   - UtilityFunction: score one flow's simulated performance
//   - ValueSampler: draw scenario parameters when sampling a battery
//
// A Simulator is single-threaded and deterministic: all randomness flows
// through PartitionedRNG streams derived from the scenario seed, and events
// at equal timestamps execute in insertion order.
package sim
