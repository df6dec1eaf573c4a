package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidPrompt       = errors.New("invalid prompt")
	ErrInvalidImage        = errors.New("invalid image")
	ErrProviderRejected    = errors.New("provider rejected request")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrRelocationFailed    = errors.New("asset relocation failed")
	ErrTerminalRegression  = errors.New("terminal status regression")
)
