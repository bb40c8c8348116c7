// Package supervisor implements the supervision engine: strategies,
// restart/shutdown policies, backoff, the per-supervisor child protocols,
// and the supervisor tree exactly per spec §4.4.
package supervisor

import "github.com/google/uuid"

// Strategy is a compile-time tag selecting how a supervisor reacts to a
// child failure (spec §4.4).
type Strategy int

const (
	// OneForOne restarts only the failed child.
	OneForOne Strategy = iota
	// OneForAll restarts every sibling when any one fails.
	OneForAll
	// RestForOne restarts the failed child plus every child started
	// after it, using the ordered child-id list.
	RestForOne
)

func (s Strategy) String() string {
	switch s {
	case OneForOne:
		return "one_for_one"
	case OneForAll:
		return "one_for_all"
	case RestForOne:
		return "rest_for_one"
	default:
		return "unknown"
	}
}

// StrategyContext carries what a Strategy needs to compute a decision: the
// child that failed and the full ordered set of sibling ids.
type StrategyContext struct {
	FailedID uuid.UUID
	AllIDs   []uuid.UUID
}

// DecisionKind discriminates the SupervisionDecision variants spec §4.4
// defines.
type DecisionKind int

const (
	RestartChild DecisionKind = iota
	RestartAll
	RestartSubset
	StopChild
	StopAll
	Escalate
)

// SupervisionDecision is the outcome of applying a Strategy to a
// StrategyContext: what the supervisor should do about the failure.
type SupervisionDecision struct {
	Kind   DecisionKind
	IDs    []uuid.UUID
	Reason error
}

// Apply computes the SupervisionDecision for ctx under strategy s.
func (s Strategy) Apply(ctx StrategyContext) SupervisionDecision {
	switch s {
	case OneForOne:
		return SupervisionDecision{Kind: RestartChild, IDs: []uuid.UUID{ctx.FailedID}}
	case OneForAll:
		return SupervisionDecision{Kind: RestartAll, IDs: ctx.AllIDs}
	case RestForOne:
		return SupervisionDecision{Kind: RestartSubset, IDs: restForOneSubset(ctx)}
	default:
		return SupervisionDecision{Kind: Escalate}
	}
}

// restForOneSubset returns the failed child plus every id that appears
// after it in AllIDs (the order children were started in).
func restForOneSubset(ctx StrategyContext) []uuid.UUID {
	for i, id := range ctx.AllIDs {
		if id == ctx.FailedID {
			return append([]uuid.UUID{}, ctx.AllIDs[i:]...)
		}
	}
	return []uuid.UUID{ctx.FailedID}
}
