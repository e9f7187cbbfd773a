package intent

// transitions is the directed graph of allowed status changes. Keeping it as
// an explicit table means invalid transitions are rejected uniformly and the
// graph is testable in isolation.
var transitions = map[Status][]Status{
	StatusPendingUserInput: {
		StatusPendingProvider,
		StatusWaitingForDeposit,
		StatusProcessing,
		StatusFailed,
		StatusCanceled,
		StatusExpired,
	},
	StatusPendingProvider: {
		StatusProcessing,
		StatusRequiresAction,
		StatusSucceeded,
		StatusFailed,
		StatusCanceled,
		StatusExpired,
	},
	StatusProcessing: {
		StatusRequiresAction,
		StatusSucceeded,
		StatusConfirmed,
		StatusFailed,
		StatusCanceled,
		StatusExpired,
		// Payout submissions that the provider could not take return to the
		// approval queue with funds still debited.
		StatusPendingAdminApproval,
	},
	StatusRequiresAction: {
		StatusProcessing,
		StatusFailed,
		StatusCanceled,
		StatusExpired,
	},
	StatusWaitingForDeposit: {
		StatusPartiallyPaid,
		StatusProcessing,
		StatusConfirmed,
		StatusFailed,
		StatusCanceled,
		StatusExpired,
	},
	StatusPartiallyPaid: {
		StatusProcessing,
		StatusConfirmed,
		StatusFailed,
		StatusExpired,
	},

	StatusPendingOTP: {
		StatusPendingAdminApproval,
		StatusCanceled,
		StatusExpired,
	},
	StatusPendingAdminApproval: {
		StatusProcessing,
		StatusRejectedByAdmin,
		StatusExpired,
	},

	// Terminal statuses have no outgoing edges.
	StatusSucceeded:       {},
	StatusConfirmed:       {},
	StatusFailed:          {},
	StatusCanceled:        {},
	StatusExpired:         {},
	StatusRejectedByAdmin: {},
}

var terminal = map[Status]bool{
	StatusSucceeded:       true,
	StatusConfirmed:       true,
	StatusFailed:          true,
	StatusCanceled:        true,
	StatusExpired:         true,
	StatusRejectedByAdmin: true,
}

// IsTerminal reports whether no further transition is accepted out of s.
func IsTerminal(s Status) bool {
	return terminal[s]
}

// SettlesLedger reports whether s is a paid terminal status, one where the
// customer's money arrived and a balance credit is owed. It is the single
// definition the settlement path keys on.
func SettlesLedger(s Status) bool {
	return s == StatusSucceeded || s == StatusConfirmed
}

// Decision is the outcome of applying a reported status against the graph.
type Decision struct {
	Accepted bool
	From     Status
	To       Status
}

// Apply checks whether target is reachable from current. A target that is not
// reachable, including anything out of a terminal status and the status the
// intent is already in, yields a rejected Decision. Callers treat rejection
// as a no-op, which is what makes duplicate and out-of-order delivery safe.
func Apply(current, target Status) Decision {
	d := Decision{From: current, To: target}
	if terminal[current] {
		return d
	}
	for _, next := range transitions[current] {
		if next == target {
			d.Accepted = true
			return d
		}
	}
	return d
}
