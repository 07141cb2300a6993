package ids

import "github.com/google/uuid"

// NewClientID returns a broker client id of the form "<prefix>-<uuid>".
func NewClientID(prefix string) string {
	if prefix == "" {
		prefix = "taskflow"
	}
	return prefix + "-" + uuid.NewString()
}

// NewCorrelationID returns a random correlation id for a published task.
func NewCorrelationID() string {
	return uuid.NewString()
}
