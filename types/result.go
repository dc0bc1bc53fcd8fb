package types

// Result is the outcome of a data-access operation.
//
// Callers check Err first, then ValidationErrors, then IsNotFound; otherwise
// Data holds the success value. Expected business conditions never populate
// Err.
type Result[T any] struct {
	Data             T
	IsNotFound       bool
	ValidationErrors []ValidationError
	Err              error
}

// OK wraps a success value.
func OK[T any](data T) Result[T] {
	return Result[T]{Data: data}
}

// NotFound reports that the target entity does not exist.
func NotFound[T any]() Result[T] {
	return Result[T]{IsNotFound: true}
}

// Invalid reports one or more validation errors.
func Invalid[T any](errs ...ValidationError) Result[T] {
	return Result[T]{ValidationErrors: errs}
}

// Fault reports an unexpected infrastructure failure.
func Fault[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Succeeded reports whether Data is the meaningful signal.
func (r Result[T]) Succeeded() bool {
	return r.Err == nil && len(r.ValidationErrors) == 0 && !r.IsNotFound
}

// Outcome names the meaningful signal of the result.
func (r Result[T]) Outcome() string {
	switch {
	case r.Err != nil:
		return OutcomeError
	case len(r.ValidationErrors) > 0:
		return OutcomeInvalid
	case r.IsNotFound:
		return OutcomeNotFound
	default:
		return OutcomeOK
	}
}

const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)
