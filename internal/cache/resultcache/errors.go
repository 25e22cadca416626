package resultcache

// ComputeError is a failure raised while populating key. Its message is the
// underlying error's message so callers can surface it verbatim.
type ComputeError struct {
	Key string
	Err error
}

func (e *ComputeError) Error() string { return e.Err.Error() }

func (e *ComputeError) Unwrap() error { return e.Err }
