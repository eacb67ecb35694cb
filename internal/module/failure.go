package module

// FailureKind classifies why a module load failed terminally. Once one of
// these is surfaced for an id, the manager never retries it automatically.
type FailureKind string

const (
	// FailureUnauthorized means the loader reported a 401: the session lost
	// its authorization and every pending load is abandoned until the
	// application re-authenticates.
	FailureUnauthorized FailureKind = "unauthorized"
	// FailureGone means the loader reported a 410: the module's code is
	// permanently unavailable at its registered locations.
	FailureGone FailureKind = "gone"
	// FailureConsecutiveFailures means three transient errors in a row
	// exhausted the retry budget for the requested module.
	FailureConsecutiveFailures FailureKind = "consecutive-failures"
	// FailureTimeout means the loader gave up waiting on a response.
	FailureTimeout FailureKind = "timeout"
)

// String returns the kind's wire spelling.
func (k FailureKind) String() string {
	return string(k)
}
