package cipherpack

import (
	"testing"
)

// recordingListener counts calls so pipeline tests can assert the ordering
// guarantees of spec.md §4.5/§7: NotifyHeader at most once, NotifyEnd exactly
// once, and on a fatal error NotifyError before a failing NotifyEnd.
type recordingListener struct {
	NoopListener
	errors      int
	headers     int
	ends        int
	progressN   int
	lastEnd     bool
	errorsAtEnd int // value of errors when NotifyEnd was last called
	abortAt     int // ContentProcessed call index (0-based) at which to return false; -1 disables
	processed   int
}

func (l *recordingListener) NotifyError(decrypt bool, err error) { l.errors++ }

func (l *recordingListener) NotifyHeader(decrypt bool, header *PackHeader, verified bool) {
	l.headers++
}

func (l *recordingListener) NotifyProgress(decrypt bool, total, processed uint64) { l.progressN++ }

func (l *recordingListener) NotifyEnd(decrypt bool, header *PackHeader, success bool) {
	l.ends++
	l.lastEnd = success
	l.errorsAtEnd = l.errors
}

func (l *recordingListener) GetSendContent(decrypt bool) bool { return l.abortAt >= 0 }

func (l *recordingListener) ContentProcessed(decrypt, isHeader bool, data []byte, isFinal bool) bool {
	defer func() { l.processed++ }()
	return l.processed != l.abortAt
}

func TestNoopListenerIsNilSafeDefault(t *testing.T) {
	l := listenerOrNoop(nil)
	if l == nil {
		t.Fatal("listenerOrNoop(nil) must never return nil")
	}
	if l.GetSendContent(false) {
		t.Fatal("NoopListener must decline payload forwarding by default")
	}
	if !l.ContentProcessed(false, false, nil, true) {
		t.Fatal("NoopListener.ContentProcessed must default to continue")
	}
}

func TestNotifyFailureCallsErrorThenEnd(t *testing.T) {
	rl := &recordingListener{abortAt: -1}
	notifyFailure(rl, false, nil, ErrTagMismatch)
	if rl.errors != 1 || rl.ends != 1 || rl.lastEnd || rl.errorsAtEnd != 1 {
		t.Fatalf("expected exactly one error and then one failing end, got errors=%d ends=%d lastEnd=%v errorsAtEnd=%d", rl.errors, rl.ends, rl.lastEnd, rl.errorsAtEnd)
	}
}
