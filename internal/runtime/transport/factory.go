package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/taskflow/internal/runtime/config"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	newtransport "github.com/drblury/taskflow/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/taskflow/transport/transports"
)

// Transport combines a publisher, a subscriber and an optional position reader.
type Transport = newtransport.Transport

// Factory abstracts how taskflow initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the built-in transport factory that uses the
// transport registry keyed by pubsub_system.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}
	return newtransport.Build(ctx, conf, logger)
}
