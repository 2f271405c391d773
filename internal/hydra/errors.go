package hydra

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInEvaluation indicates the job page carries Hydra's warning that
	// the job is not part of the jobset's latest evaluation.
	ErrNotInEvaluation = errors.New("job is not part of latest evaluation")

	// ErrLatestBuildNotFound indicates the job page had no parsable link to
	// its latest build.
	ErrLatestBuildNotFound = errors.New("failed to find latest build")
)

// StatusError is returned when Hydra answers with a non-2xx status.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("hydra %s: status %d: %s", e.URL, e.Code, e.Body)
	}
	return fmt.Sprintf("hydra %s: status %d", e.URL, e.Code)
}
