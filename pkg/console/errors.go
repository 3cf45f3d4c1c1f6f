package console

import "errors"

// Failure taxonomy. Transport layers wrap these with %w so callers can branch
// with errors.Is.
var (
	ErrUpload          = errors.New("upload failed")
	ErrConnection      = errors.New("connection failed")
	ErrStream          = errors.New("stream failed")
	ErrParse           = errors.New("structured payload could not be decoded")
	ErrExport          = errors.New("export failed")
	ErrSuggestionFetch = errors.New("suggestion fetch failed")
	ErrPersist         = errors.New("session could not be persisted")
)

// Rule violations raised by the console core itself.
var (
	ErrUnknownMode       = errors.New("unknown mode")
	ErrTurnInFlight      = errors.New("a turn is already open for this mode")
	ErrEmptyQuery        = errors.New("query text is empty")
	ErrSourceInactive    = errors.New("source is not active")
	ErrSelectionDisabled = errors.New("selection mode is disabled")
	ErrEmptySelection    = errors.New("no messages selected")
	ErrIndexOutOfRange   = errors.New("message index out of range")
	ErrNotPinnable       = errors.New("message cannot be pinned")
)

// StreamFailureText is the assistant text shown for a failed turn.
const StreamFailureText = "Error: Connection failed."
