package signaling

import "errors"

// Protocol errors. Each one is reported to the offending connection as an
// error message; none of them closes the connection.
var (
	ErrMalformed       = errors.New("malformed message")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrNotJoined       = errors.New("connection has not joined the room")
	ErrAlreadyJoined   = errors.New("connection already joined another room")
)
