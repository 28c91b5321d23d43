package notify

import (
	"time"
)

// Kind represents the category of a user-visible warning
type Kind string

const (
	KindArchiveCorrupt Kind = "archive-corrupt"
	KindArchiveRead    Kind = "archive-read"
)

// Warning describes a problem worth interrupting the user for
type Warning struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// Notifier defines the interface for warning delivery mechanisms
type Notifier interface {
	Notify(warning Warning) error
}
