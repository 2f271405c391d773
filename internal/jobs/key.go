package jobs

import (
	"fmt"
	"strings"
)

// Key returns the canonical identity of a job, "project:jobset:job".
// It is used as the status store key and for deduplication.
func Key(project, jobset, job string) string {
	return project + ":" + jobset + ":" + job
}

// ParseKey splits a key produced by Key. The job part keeps any further
// colons, since job names are free-form.
func ParseKey(key string) (project, jobset, job string, err error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("invalid job key %q, expected project:jobset:job", key)
	}
	return parts[0], parts[1], parts[2], nil
}
