package types

// Decision is the permissionDecision returned to the agent runtime.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// Outcome records what the mediator did with a request.
type Outcome string

const (
	OutcomeAllowed    Outcome = "allowed"
	OutcomeDenied     Outcome = "denied"
	OutcomeApproval   Outcome = "requires-approval"
	OutcomeSoftDelete Outcome = "soft-delete"
	OutcomePassThru   Outcome = "pass-through"
)
