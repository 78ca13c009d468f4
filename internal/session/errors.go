package session

import "errors"

// Error taxonomy shared across the registry, pairing and API layers.
// Callers classify with errors.Is; the API layer maps these to HTTP codes.
var (
	ErrAlreadyExists = errors.New("session already exists")
	ErrNotFound      = errors.New("session not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidState  = errors.New("invalid session state")
	ErrProtocol      = errors.New("connection handle error")
	ErrPersistence   = errors.New("credential persistence error")
)
