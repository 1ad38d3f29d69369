package worker

import (
	"errors"

	"github.com/ipiton/message-broker/internal/registry"
)

func isNotFound(err error) bool {
	var notFound *registry.ErrMessageNotFound
	return errors.As(err, &notFound)
}

func asInvalidTransition(err error) (*registry.ErrInvalidTransition, bool) {
	var invalid *registry.ErrInvalidTransition
	if errors.As(err, &invalid) {
		return invalid, true
	}
	return nil, false
}
