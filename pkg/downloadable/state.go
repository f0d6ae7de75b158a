package downloadable

// State describes the download state of an Item.
type State int

const (
	// StateIdle means no download has been attempted since the item was
	// created.
	StateIdle State = iota
	// StateDownloading means an asynchronous fetch is in flight.
	StateDownloading
	// StateSucceeded means the last fetch completed and the local file was
	// replaced atomically.
	StateSucceeded
	// StateFailed means the last fetch failed; the previous local file, if
	// any, is untouched.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
