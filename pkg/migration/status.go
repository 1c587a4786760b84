package migration

// StatusCode is the persisted state of a plugin's last run.
//
// The numeric values are stored in the info store and shared by every
// process in the cluster, so they must never be renumbered.
type StatusCode int

const (
	// StatusUnknown is reported for plugins that have never run.
	// It is never written by the manager.
	StatusUnknown  StatusCode = 0
	StatusComplete StatusCode = 1
	StatusRunning  StatusCode = 2
	StatusError    StatusCode = 3
)

// ParseStatusCode validates a raw status code read from an info store.
// Values outside the known set mean the stored record is corrupt.
func ParseStatusCode(raw int) (StatusCode, error) {
	switch code := StatusCode(raw); code {
	case StatusUnknown, StatusComplete, StatusRunning, StatusError:
		return code, nil
	default:
		return StatusUnknown, CorruptStatusError.New("unexpected status code %d", raw)
	}
}

func (c StatusCode) String() string {
	switch c {
	case StatusComplete:
		return "complete"
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of a plugin's persisted state.
type Status struct {
	Plugin  string     `json:"plugin"`
	Version int        `json:"version"`
	Code    StatusCode `json:"code"`
	State   string     `json:"state"`
	Message string     `json:"message"`
}
