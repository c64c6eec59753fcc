package types

// Status is the lifecycle state stored on a request record. The record in
// the remote store is the single source of truth; the processed ledger is
// advisory only.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether the status is an end state. Terminal records are
// never moved back to pending by this system.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransitionTo reports whether next is a legal transition. The only legal
// transitions are pending->approved and pending->rejected; re-writing a
// terminal record is tolerated at the store layer (last write wins) but is
// not a legal transition.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && next.Terminal()
}
