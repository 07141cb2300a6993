package taskflow

import (
	"context"

	runtimepkg "github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/runtime/admin"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	"github.com/drblury/taskflow/internal/runtime/consumer"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/taskflow/internal/runtime/handlers"
	idspkg "github.com/drblury/taskflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/taskflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
	"github.com/drblury/taskflow/internal/runtime/task"
	transportpkg "github.com/drblury/taskflow/internal/runtime/transport"
	newtransport "github.com/drblury/taskflow/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	Producer = runtimepkg.Producer
	Receipt  = runtimepkg.Receipt

	Envelope       = task.Envelope
	MalformedError = task.MalformedError

	Handler         = handlerpkg.Handler
	HandlerFunc     = handlerpkg.HandlerFunc
	Middleware      = handlerpkg.Middleware
	Registry        = handlerpkg.Registry
	RegistryBuilder = handlerpkg.Builder
	RegistryEntry   = handlerpkg.Entry
	TaskInfo        = handlerpkg.TaskInfo
	TaskContext     = handlerpkg.TaskContext
	TaskHooks       = handlerpkg.TaskHooks
	Notification    = handlerpkg.Notification
	Notifier        = handlerpkg.Notifier
	NotifierFunc    = handlerpkg.NotifierFunc

	Loop            = consumer.Loop
	LoopState       = consumer.State
	PartitionOffset = consumer.PartitionOffset
	FailurePolicy   = consumer.FailurePolicy

	TopicSpec        = admin.TopicSpec
	TopicResult      = admin.Result
	TopicProvisioner = runtimepkg.TopicProvisioner

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
	LogConfig     = loggingpkg.Config

	ConfigValidationError = errspkg.ConfigValidationError

	// Modular transport types
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	LoadConfig     = configpkg.Load
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig

	NewTask     = task.New
	MustNewTask = task.MustNew
	EncodeTask  = task.Encode
	DecodeTask  = task.Decode
	PublishTask = runtimepkg.PublishTask

	NewRegistry         = handlerpkg.NewRegistry
	NewRegistryBuilder  = handlerpkg.NewBuilder
	BuiltinHandlers     = handlerpkg.Builtins
	SamplePayload       = handlerpkg.SamplePayload
	TaskInfoFromContext = handlerpkg.TaskInfoFromContext
	Permanent           = handlerpkg.Permanent
	IsPermanent         = handlerpkg.IsPermanent

	RecovererMiddleware = handlerpkg.Recoverer
	TracingMiddleware   = handlerpkg.Tracing
	TimeoutMiddleware   = handlerpkg.Timeout
	HooksMiddleware     = handlerpkg.Hooks
	LoggingHooks        = handlerpkg.LoggingHooks
	AlertingHooks       = handlerpkg.AlertingHooks

	NewTopicProvisioner = admin.NewProvisioner

	// Transport registry. Built-in transports register themselves when
	// github.com/drblury/taskflow/transport/transports is imported.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrServiceRequired   = errspkg.ErrServiceRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrKindRequired      = errspkg.ErrKindRequired
	ErrDuplicateKind     = errspkg.ErrDuplicateKind
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrLoopRunning       = errspkg.ErrLoopRunning
	ErrServiceStopped    = errspkg.ErrServiceStopped
	ErrMalformedTask     = task.ErrMalformed

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID
)

// Task kinds handled by the built-in registry.
const (
	KindEmail = task.KindEmail
	KindSMS   = task.KindSMS
	KindPush  = task.KindPush
)

// Metadata keys stamped on published and dead-lettered tasks.
const (
	MetadataKeyTaskKind      = metadatapkg.KeyTaskKind
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyDLQTopic      = metadatapkg.KeyDLQOriginalTopic
	MetadataKeyDLQError      = metadatapkg.KeyDLQError
)

// JSONHandler adapts a typed function to Handler; the task payload is decoded
// into T and validated before fn runs.
func JSONHandler[T any](fn func(ctx context.Context, payload T) error) Handler {
	return handlerpkg.JSONHandler(fn)
}
