package plugin

import "context"

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	Name() string
	Close() error
}

// Notifier delivers reports about newly failing builds.
type Notifier interface {
	Plugin
	Notify(ctx context.Context, event NotifyEvent) error
}
