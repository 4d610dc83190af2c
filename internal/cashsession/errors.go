package cashsession

import (
	"errors"

	"github.com/fjod/go_pos/internal/repository"
)

var (
	ErrInvalidAmount       = errors.New("amount is out of range")
	ErrReasonRequired      = errors.New("a reason is required for cash movements")
	ErrUnknownMovementType = errors.New("movement type must be ingress or egress")

	ErrSessionAlreadyOpen = repository.ErrSessionAlreadyOpen
	ErrNoOpenSession      = repository.ErrSessionNotOpen
	ErrSessionNotFound    = repository.ErrCashSessionNotFound
)
