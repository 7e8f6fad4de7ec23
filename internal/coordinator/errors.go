package coordinator

import "errors"

var (
	ErrInvalidRequest      = errors.New("coordinator: invalid request")
	ErrInvalidRole         = errors.New("coordinator: invalid role")
	ErrInvalidKind         = errors.New("coordinator: invalid payload kind")
	ErrNotRegistered       = errors.New("coordinator: connection not registered for call")
	ErrParticipantMismatch = errors.New("coordinator: participant does not hold role on call")
	ErrCallEnded           = errors.New("coordinator: call already ended")
	ErrCallNotEnded        = errors.New("coordinator: call has not ended")
)
