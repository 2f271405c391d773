package jobs

import (
	"sort"
	"strings"
)

// JobSpec selects a jobset and an optional job-name prefix.
type JobSpec struct {
	Project string
	Jobset  string
	Prefix  string
}

// ParseJobSpec parses "project:jobset:prefix". The jobset and prefix are
// optional and default to "". Everything after the second colon is the
// prefix.
func ParseJobSpec(s string) JobSpec {
	parts := strings.SplitN(s, ":", 3)
	var spec JobSpec
	spec.Project = parts[0]
	if len(parts) > 1 {
		spec.Jobset = parts[1]
	}
	if len(parts) > 2 {
		spec.Prefix = parts[2]
	}
	return spec
}

// ParseJobSpecs parses every string with ParseJobSpec.
func ParseJobSpecs(specs []string) []JobSpec {
	out := make([]JobSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, ParseJobSpec(s))
	}
	return out
}

// JobsetPath returns "project/jobset" as used in Hydra URLs.
func (s JobSpec) JobsetPath() string {
	return s.Project + "/" + s.Jobset
}

// Job is a concrete job on the build farm.
type Job struct {
	JobsetPath string // project/jobset
	Name       string // prefix + job + "." + system
}

func (j Job) String() string {
	return j.JobsetPath + "/" + j.Name
}

// Expand returns the cartesian product of specs, job names and systems,
// deduplicated and sorted by (JobsetPath, Name). extra names (typically
// packages resolved from maintainers) are appended to names. Empty
// components are passed through as is.
func Expand(specs []JobSpec, names, systems, extra []string) []Job {
	seen := make(map[Job]struct{})
	var out []Job

	all := make([]string, 0, len(names)+len(extra))
	all = append(all, names...)
	all = append(all, extra...)

	for _, spec := range specs {
		path := spec.JobsetPath()
		for _, name := range all {
			for _, system := range systems {
				j := Job{JobsetPath: path, Name: spec.Prefix + name + "." + system}
				if _, ok := seen[j]; ok {
					continue
				}
				seen[j] = struct{}{}
				out = append(out, j)
			}
		}
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].JobsetPath != out[b].JobsetPath {
			return out[a].JobsetPath < out[b].JobsetPath
		}
		return out[a].Name < out[b].Name
	})
	return out
}
