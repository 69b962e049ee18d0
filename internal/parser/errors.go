package parser

import "errors"

// ErrNotCommand means the message lacks the command prefix and must be
// ignored without a reply.
var ErrNotCommand = errors.New("not a command")

// ErrorKind classifies user-facing parse failures.
type ErrorKind int

const (
	NoCommand ErrorKind = iota + 1
	UnknownCommand
	NoProtocolSelected
	MissingAddress
)

// UserError is a parse failure whose text is sent back to the room.
type UserError struct {
	Kind ErrorKind
}

func (e *UserError) Error() string {
	switch e.Kind {
	case NoCommand:
		return "Error: No command provided."
	case UnknownCommand:
		return "Error: unknown command."
	case NoProtocolSelected:
		return "Error: no method is specified."
	case MissingAddress:
		return "Error: IP address required."
	}
	return "Error: Unable to process command."
}

// Is lets errors.Is match on kind alone.
func (e *UserError) Is(target error) bool {
	t, ok := target.(*UserError)
	return ok && t.Kind == e.Kind
}

var (
	ErrNoCommand          = &UserError{Kind: NoCommand}
	ErrUnknownCommand     = &UserError{Kind: UnknownCommand}
	ErrNoProtocolSelected = &UserError{Kind: NoProtocolSelected}
	ErrMissingAddress     = &UserError{Kind: MissingAddress}
)

func (k ErrorKind) String() string {
	switch k {
	case NoCommand:
		return "no_command"
	case UnknownCommand:
		return "unknown_command"
	case NoProtocolSelected:
		return "no_protocol_selected"
	case MissingAddress:
		return "missing_address"
	}
	return "unknown"
}
