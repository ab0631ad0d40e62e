package model

// Notifier delivers a rendered message with a subject line.
type Notifier interface {
	Send(subject, body string) error
}
