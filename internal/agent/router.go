package agent

// Decision is the router's choice for the next network iteration.
type Decision int

const (
	// DecisionGather routes to the business-info gatherer agent.
	DecisionGather Decision = iota
	// DecisionCode routes to the code-generation agent.
	DecisionCode
	// DecisionPause selects no agent: the run is waiting on a user response.
	DecisionPause
	// DecisionDone stops the network: a summary has been produced.
	DecisionDone
)

func (d Decision) String() string {
	switch d {
	case DecisionGather:
		return "gather"
	case DecisionCode:
		return "code"
	case DecisionPause:
		return "pause"
	case DecisionDone:
		return "done"
	}
	return "unknown"
}

// Route picks the next agent from the current state. It is a pure function:
// identical snapshots always produce identical decisions.
//
// Pause is not a persisted state; it is recomputed from the waiting flag each
// iteration, so once the flag clears the next iteration re-evaluates from the
// gather/code rules.
func Route(s Snapshot) Decision {
	if s.Summary != "" {
		return DecisionDone
	}
	if s.WaitingForUserResponse {
		return DecisionPause
	}
	if !s.BusinessInfo.Complete() {
		return DecisionGather
	}
	return DecisionCode
}
