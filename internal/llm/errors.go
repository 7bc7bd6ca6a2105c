package llm

import "errors"

var (
	// ErrProviderUnavailable: el probe de salud fallo o el proveedor no es alcanzable.
	ErrProviderUnavailable = errors.New("llm: provider unavailable")
	// ErrProviderProtocol: respuesta o chunk que no se puede interpretar.
	ErrProviderProtocol = errors.New("llm: provider protocol error")
	// ErrProviderRequest: el proveedor respondio con un status no exitoso.
	ErrProviderRequest = errors.New("llm: provider request error")
	ErrUnknownModel    = errors.New("llm: unknown model")
	ErrStreamClosed    = errors.New("llm: stream closed")
)
