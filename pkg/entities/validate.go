package entities

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks an entity payload before it enters the cache.
// Malformed payloads are rejected rather than cached with zero-filled
// fields.
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEntity, err)
	}
	return nil
}
