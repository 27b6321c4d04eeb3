package sim

// Policy maps a flow's observed statistics and current congestion window to
// the next Action. The window argument lets implementations condition on
// sender state; the returned Action is raw, and callers compose it with the
// current window via Action.Apply.
//
// Implementations must be safe for concurrent Act calls when shared across
// simulator instances: the whisker tree and the linear model are read-only
// during evaluation.
type Policy interface {
	Act(obs Observation, currentWindow uint32) (Action, error)
}
