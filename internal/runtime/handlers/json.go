package handlers

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/drblury/taskflow/internal/runtime/task"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// JSONHandler decodes the task payload into T before calling fn. Struct
// payloads are checked against their `validate` tags. Decode and validation
// failures are permanent: retrying the same bytes cannot succeed.
func JSONHandler[T any](fn func(ctx context.Context, payload T) error) Handler {
	return HandlerFunc(func(ctx context.Context, env task.Envelope) error {
		var payload T
		if err := env.Decode(&payload); err != nil {
			return Permanent(fmt.Errorf("%w: kind %q: %w", ErrPayloadDecode, env.Kind(), err))
		}
		if isStruct(payload) {
			if err := validate.Struct(payload); err != nil {
				return Permanent(fmt.Errorf("%w: kind %q: %w", ErrPayloadInvalid, env.Kind(), err))
			}
		}
		return fn(ctx, payload)
	})
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}
