package hydra

import (
	"errors"
	"fmt"
	"strings"

	"github.com/patrickspencer/hydranotify/internal/jobs"
)

// Build is the JSON record Hydra serves at /build/{id}.
type Build struct {
	ID          uint64 `json:"id"`
	BuildStatus uint8  `json:"buildstatus"`
	Project     string `json:"project"`
	Jobset      string `json:"jobset"`
	Job         string `json:"job"`
	NixName     string `json:"nixname"`
}

// buildRecord mirrors Build with pointer fields so that absent and null
// values can be told apart from zero values.
type buildRecord struct {
	ID          *uint64 `json:"id"`
	BuildStatus *uint8  `json:"buildstatus"`
	Project     *string `json:"project"`
	Jobset      *string `json:"jobset"`
	Job         *string `json:"job"`
	NixName     string  `json:"nixname"`
}

// build checks that every required field is present.
func (r *buildRecord) build() (*Build, error) {
	switch {
	case r.ID == nil:
		return nil, errors.New("missing id")
	case r.BuildStatus == nil:
		return nil, errors.New("missing buildstatus")
	case r.Project == nil:
		return nil, errors.New("missing project")
	case r.Jobset == nil:
		return nil, errors.New("missing jobset")
	case r.Job == nil:
		return nil, errors.New("missing job")
	}
	return &Build{
		ID:          *r.ID,
		BuildStatus: *r.BuildStatus,
		Project:     *r.Project,
		Jobset:      *r.Jobset,
		Job:         *r.Job,
		NixName:     r.NixName,
	}, nil
}

// FullName is the status store key of the build's job.
func (b *Build) FullName() string {
	return jobs.Key(b.Project, b.Jobset, b.Job)
}

// IsFailing reports whether the build did not succeed.
func (b *Build) IsFailing() bool {
	return b.BuildStatus != 0
}

// StatusText returns the human-readable build status.
func (b *Build) StatusText() string {
	return StatusText(b.BuildStatus)
}

// URL returns the build page on the given Hydra instance.
func (b *Build) URL(base string) string {
	return fmt.Sprintf("%s/build/%d", strings.TrimRight(base, "/"), b.ID)
}

// StatusText maps a Hydra buildstatus code to the label Hydra shows for it.
// Codes Hydra does not define map to "Failed (unknown)".
func StatusText(code uint8) string {
	switch code {
	case 0:
		return "Succeeded"
	case 1:
		return "Failed"
	case 2:
		return "Dependency Failed"
	case 3, 9:
		return "Aborted"
	case 4:
		return "Cancelled"
	case 6:
		return "Failed with output"
	case 7:
		return "Timed out"
	case 10:
		return "Log limit exceeded"
	case 11:
		return "Output size limit exceeded"
	case 12:
		return "Non-deterministic build"
	default:
		return "Failed (unknown)"
	}
}
