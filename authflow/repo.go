package authflow

import "time"

// PendingFlow records the client half of a redirect handshake between
// BeginRedirect and ResumeFromCallback, keyed by its single-use correlation
// state.
type PendingFlow struct {
	Provider     string    `json:"provider"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}

// FlowRepo stores pending flows between the start of a redirect and the
// provider callback. Implementations must be safe for concurrent use.
type FlowRepo interface {
	Upsert(state string, flow *PendingFlow) error
	Get(state string) (*PendingFlow, error)
	Delete(state string) error
}
