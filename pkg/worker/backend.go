package worker

import "fmt"

// Backend is the execution substrate a worker runs against.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

func (b Backend) String() string {
	return string(b)
}

// ParseBackend accepts "local" or "remote" in any case.
func ParseBackend(raw string) (Backend, error) {
	switch Canonicalize(raw) {
	case "local":
		return BackendLocal, nil
	case "remote":
		return BackendRemote, nil
	default:
		return "", fmt.Errorf("unknown backend %q", raw)
	}
}
