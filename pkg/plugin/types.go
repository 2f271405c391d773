package plugin

// FailingBuild describes one build in a notification.
type FailingBuild struct {
	FullName   string // project:jobset:job
	BuildID    uint64
	URL        string
	Status     uint8
	StatusText string
	NixName    string
}

// NotifyEvent holds the newly failing builds of one pipeline run.
type NotifyEvent struct {
	RunID   string
	Subject string
	Body    string // plain text, one line per build
	Builds  []FailingBuild
}
