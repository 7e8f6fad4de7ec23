package calls

import "errors"

var (
	ErrNotFound            = errors.New("calls: not found")
	ErrAlreadyFinalized    = errors.New("calls: record already finalized")
	ErrProviderUnavailable = errors.New("calls: provider unavailable")
	ErrActiveCallExists    = errors.New("calls: requester already has an active call")
	ErrInvalidArgument     = errors.New("calls: invalid argument")
)
