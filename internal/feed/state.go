package feed

import "fmt"

// State is where a screen is in its lifecycle.
//
//	Uninitialized → AwaitingSession → Unauthenticated (terminal)
//	                                → Loading → Loaded | LoadError
//
// Loaded and LoadError go back through Loading on every reload.
type State int

const (
	Uninitialized State = iota
	AwaitingSession
	Unauthenticated
	Loading
	Loaded
	LoadError
)

var stateNames = [...]string{
	Uninitialized:   "uninitialized",
	AwaitingSession: "awaiting_session",
	Unauthenticated: "unauthenticated",
	Loading:         "loading",
	Loaded:          "loaded",
	LoadError:       "load_error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Level string

const (
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Notice is a transient, user-facing message. Every failed operation adds
// exactly one error notice.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}
