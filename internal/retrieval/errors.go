package retrieval

import "fmt"

// EmptyInputError is returned when there is no posting text to embed.
type EmptyInputError struct {
	PostingID string
}

func (e *EmptyInputError) Error() string {
	if e.PostingID == "" {
		return "empty posting text"
	}
	return fmt.Sprintf("empty posting text for %q", e.PostingID)
}

// ModelError wraps a failed model invocation.
type ModelError struct {
	Op  string
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}
