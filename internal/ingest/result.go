package ingest

// result carries either a stage's output or the classified error that
// stopped the run. Stages after a failure are skipped.
type result[T any] struct {
	value T
	err   *Error
}

func ok[T any](v T) result[T] {
	return result[T]{value: v}
}

func failed[T any](step Step, err error) result[T] {
	return result[T]{err: &Error{Kind: KindProcessing, Step: step, Err: err}}
}

// then runs next with r's value unless r already failed.
func then[A, B any](r result[A], next func(A) result[B]) result[B] {
	if r.err != nil {
		return result[B]{err: r.err}
	}
	return next(r.value)
}
