package authgate

// TicketState models the lifecycle of one login attempt's pending-auth
// ticket. The transition table is the single source of truth: session
// issuance is reachable only through a [sessionGrant], and grants are
// constructed only on TicketStateFinalized or on a password validation that
// never entered the gate.
type TicketState uint8

const (
	// TicketStateNone is the pre-ticket state of a login attempt.
	TicketStateNone TicketState = iota
	// TicketStatePending means a ticket exists and a code may be submitted.
	TicketStatePending
	// TicketStateFinalized is the terminal success state.
	TicketStateFinalized
	// TicketStateAbandoned is the terminal state after an explicit cancel.
	TicketStateAbandoned
	// TicketStateExpired is the terminal state after TTL elapse.
	TicketStateExpired
)

func (s TicketState) String() string {
	switch s {
	case TicketStateNone:
		return "none"
	case TicketStatePending:
		return "pending"
	case TicketStateFinalized:
		return "finalized"
	case TicketStateAbandoned:
		return "abandoned"
	case TicketStateExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Terminal reports whether no further transition is possible.
func (s TicketState) Terminal() bool {
	return s == TicketStateFinalized || s == TicketStateAbandoned || s == TicketStateExpired
}

func (s TicketState) canTransition(to TicketState) bool {
	switch s {
	case TicketStateNone:
		return to == TicketStatePending
	case TicketStatePending:
		return to == TicketStateFinalized || to == TicketStateAbandoned || to == TicketStateExpired
	default:
		return false
	}
}

// sessionGrant is the only value the session issuer accepts. It is
// unexported and constructed in exactly two places: grantFromPassword (login
// with no second factor required) and grantFromFinalizedTicket (gate
// success). Holding a ticket id is structurally insufficient to mint a
// session.
type sessionGrant struct {
	accountID string
	role      string
	via       string
}

func grantFromPassword(res *ValidateResult) (sessionGrant, error) {
	if res.SecondFactorRequired {
		return sessionGrant{}, ErrSecondFactorRequired
	}
	return sessionGrant{
		accountID: res.AccountID,
		role:      res.Role,
		via:       "password",
	}, nil
}

func grantFromFinalizedTicket(accountID, role string, final TicketState) (sessionGrant, bool) {
	if final != TicketStateFinalized {
		return sessionGrant{}, false
	}
	return sessionGrant{
		accountID: accountID,
		role:      role,
		via:       "second_factor",
	}, true
}
