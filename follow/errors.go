package follow

import "errors"

// errors.go provides all custom error types for the follow package
//
// error type checking:
//   an error can be checked if it is any of these using errors.Is(err, ErrType)

// used for the realtime codec
var (
	ErrMalformedFrame = errors.New("malformed frame")
)

// used for follow actions
var (
	ErrSelfFollow       = errors.New("cannot follow self")
	ErrNotSessionUser   = errors.New("acting user is not the session user")
	ErrFollowNotOffered = errors.New("follow is not offered for this profile")
)

// used for the session
var (
	ErrSessionInvalid = errors.New("session invalid")
	ErrSessionClosed  = errors.New("session closed")
)

// used for the rest api
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrPostInteraction = errors.New("post interaction failed")
)
