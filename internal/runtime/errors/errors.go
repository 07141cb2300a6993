package errors

import sterrors "errors"

var (
	ErrServiceRequired    = sterrors.New("taskflow: task service is required")
	ErrHandlerRequired    = sterrors.New("taskflow: handler is required")
	ErrKindRequired       = sterrors.New("taskflow: task kind is required")
	ErrDuplicateKind      = sterrors.New("taskflow: task kind is already registered")
	ErrRegistryRequired   = sterrors.New("taskflow: handler registry is required")
	ErrSourceRequired     = sterrors.New("taskflow: message source is required")
	ErrPublisherRequired  = sterrors.New("taskflow: publisher is required")
	ErrTopicRequired      = sterrors.New("taskflow: topic is required")
	ErrConfigRequired     = sterrors.New("taskflow: configuration is required")
	ErrLoggerRequired     = sterrors.New("taskflow: logger is required")
	ErrSubscribe          = sterrors.New("taskflow: subscription failed")
	ErrSubscriptionClosed = sterrors.New("taskflow: subscription closed")
	ErrNotSubscribed      = sterrors.New("taskflow: source is not subscribed")
	ErrCommitRejected     = sterrors.New("taskflow: commit rejected by transport")
	ErrProvision          = sterrors.New("taskflow: topic provisioning failed")
	ErrLoopRunning        = sterrors.New("taskflow: loop is already running")
	ErrServiceStopped     = sterrors.New("taskflow: service already ran; create a new service")
)

// ConfigValidationError marks configuration problems detected before any
// broker connection is attempted.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "taskflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
