package fetch

// EventKind distinguishes the lifecycle stages of a transfer.
type EventKind int

const (
	// EventStart is sent once the response is accepted, before any body bytes
	EventStart EventKind = iota
	// EventProgress is sent for every chunk written to the destination
	EventProgress
	// EventDone is sent when the transfer ends, successfully or not
	EventDone
)

// ProgressEvent is a byte-count notification for one resource.
type ProgressEvent struct {
	Kind     EventKind
	Resource string // Destination path
	Delta    int64  // Bytes written by this chunk
	Total    int64  // Expected final size, 0 when unknown
	Offset   int64  // Bytes already present before this invocation (EventStart only)
	Failed   bool   // Set on EventDone when the transfer failed
}

// Observer receives progress events. Implementations must be safe for
// concurrent use; the crawler runs several transfers at once.
type Observer interface {
	Observe(ProgressEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ProgressEvent)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev ProgressEvent) {
	f(ev)
}

type nopObserver struct{}

func (nopObserver) Observe(ProgressEvent) {}
