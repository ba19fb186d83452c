package ingest

import (
	"errors"
	"fmt"
)

// Kind classifies an ingestion failure for the caller.
type Kind int

const (
	// KindValidation means the input itself was rejected. Only asynchronous
	// parse failures carry a record; all others happen before one exists.
	KindValidation Kind = iota + 1
	// KindProcessing means a record was created and has been marked FAILED.
	KindProcessing
	// KindUnavailable means the pipeline could not accept work: the queue is
	// full or shut down, or the upload could not be spooled to disk.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindProcessing:
		return "processing"
	case KindUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Step names the pipeline stage an error came from.
type Step string

const (
	StepAdmission Step = "admission"
	StepParse     Step = "parse"
	StepRecord    Step = "record"
	StepChunk     Step = "chunk"
	StepEmbed     Step = "embed"
	StepIndex     Step = "index"
	StepFinalize  Step = "finalize"
	StepQueue     Step = "queue"
)

var (
	// ErrTooManyDocuments rejects a batch larger than the per-request limit.
	ErrTooManyDocuments = errors.New("too many documents in batch")
	// ErrCapacityExceeded rejects a batch that would exceed the system-wide document cap.
	ErrCapacityExceeded = errors.New("document capacity exceeded")
	// ErrDocumentTooLarge rejects a document over the byte or page limit.
	ErrDocumentTooLarge = errors.New("document too large")
	// ErrExtensionNotAllowed rejects a file type outside the configured allow list.
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	// ErrEmptyDocument rejects uploads without a name or content.
	ErrEmptyDocument = errors.New("empty document")
	// ErrNoContent marks a document that produced no chunks.
	ErrNoContent = errors.New("document has no extractable text")
	// ErrQueueFull is returned by Submit when the worker queue is full.
	ErrQueueFull = errors.New("ingest queue full")
	// ErrShutdown is returned by Submit after Shutdown.
	ErrShutdown = errors.New("ingest pipeline shut down")
)

// Error is the classified failure of one ingestion. DocumentID is zero when
// no record was created.
type Error struct {
	Kind       Kind
	Step       Step
	DocumentID int64
	Err        error
}

func (e *Error) Error() string {
	if e.DocumentID != 0 {
		return fmt.Sprintf("%s failed at %s (document %d): %v", e.Kind, e.Step, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("%s failed at %s: %v", e.Kind, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validation(step Step, err error) *Error {
	return &Error{Kind: KindValidation, Step: step, Err: err}
}

// KindOf returns the Kind of an ingestion error, or zero for nil and
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsValidation reports whether err rejected input without creating state.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
