package model

import "context"

// AlertSink receives the attack events produced by one monitor pass.
type AlertSink interface {
	// Name identifies the sink in logs.
	Name() string

	// Publish delivers the events. Implementations must not retain the slice.
	Publish(ctx context.Context, events []AttackEvent) error
}
