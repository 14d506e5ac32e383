package cipherpack

// Listener is the observer contract from spec.md §4.5, modeled as an
// interface the way the teacher models UnpackConfigHandler/UnpackHandler
// in getmeta.go/unpack.go: a borrowed, caller-owned capability set the
// pipeline drives for the duration of a single operation.
//
// No method has an error return: a Listener implementation that needs to
// fail an operation does so by returning false from ContentProcessed, which
// aborts it with ErrListenerAbort. Returning false from GetSendContent only
// turns off ContentProcessed calls. A panic raised inside a Listener method
// is not recovered by the pipeline.
type Listener interface {
	// NotifyError is called on any fatal error, decrypt reports whether
	// this was a decrypt (true) or encrypt (false) operation.
	NotifyError(decrypt bool, err error)

	// NotifyHeader is called once, after Header-1 is decoded and, for
	// decrypt, its signature has been checked.
	NotifyHeader(decrypt bool, header *PackHeader, verified bool)

	// NotifyProgress is called periodically during payload streaming.
	NotifyProgress(decrypt bool, total, processed uint64)

	// NotifyEnd is the terminal notification for an operation.
	NotifyEnd(decrypt bool, header *PackHeader, success bool)

	// GetSendContent is called once before payload streaming begins; if it
	// returns false, ContentProcessed is never called for this operation.
	GetSendContent(decrypt bool) bool

	// ContentProcessed is called per payload chunk, only if GetSendContent
	// returned true. data may be inspected or mutated in place; mutation
	// affects only the listener's own copy, never the codec's stream.
	// Returning false aborts the operation with ErrListenerAbort.
	ContentProcessed(decrypt bool, isHeader bool, data []byte, isFinal bool) bool
}

// NoopListener is a zero-value-safe Listener that observes nothing and
// never requests payload bytes. Grounded on the teacher's getMetaHandler,
// the only other minimal, ready-to-embed Listener-shaped implementation in
// the pack.
type NoopListener struct{}

func (NoopListener) NotifyError(bool, error)                        {}
func (NoopListener) NotifyHeader(bool, *PackHeader, bool)            {}
func (NoopListener) NotifyProgress(bool, uint64, uint64)             {}
func (NoopListener) NotifyEnd(bool, *PackHeader, bool)               {}
func (NoopListener) GetSendContent(bool) bool                        { return false }
func (NoopListener) ContentProcessed(bool, bool, []byte, bool) bool  { return true }

// listenerOrNoop never returns nil, so pipeline code can call methods
// unconditionally.
func listenerOrNoop(l Listener) Listener {
	if l == nil {
		return NoopListener{}
	}
	return l
}

// notifyFailure is the fixed two-call failure sequence from spec.md §7:
// notifyError then notifyEnd(success=false), exactly once each.
func notifyFailure(l Listener, decrypt bool, header *PackHeader, err error) {
	l.NotifyError(decrypt, err)
	l.NotifyEnd(decrypt, header, false)
}
