package broadcast

import "errors"

var (
	// ErrMissingProviderCredential means no usable provider token is stored
	// for the user; no remote call is attempted in that case.
	ErrMissingProviderCredential = errors.New("valid provider credential required, please re-authenticate with the provider")
	// ErrReauthRequired means the provider rejected the stored token.
	ErrReauthRequired = errors.New("provider authentication failed, please re-authenticate with the provider")
	// ErrQuotaExceeded means the provider signalled a quota or rate limit.
	// The orchestrator never retries; retry policy belongs to the caller.
	ErrQuotaExceeded = errors.New("provider quota exceeded, please try again later")
	// ErrRemote covers unclassified provider failures.
	ErrRemote = errors.New("provider request failed")
	// ErrNotFound is returned when the session key is unknown.
	ErrNotFound = errors.New("stream session not found")
	// ErrForbidden is returned when the caller does not own the session.
	ErrForbidden = errors.New("access denied")
	// ErrIllegalTransition is returned for lifecycle moves the transition
	// table does not permit, such as starting an ended session.
	ErrIllegalTransition = errors.New("illegal session status transition")
)
