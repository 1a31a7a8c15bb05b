package errors

import "fmt"

// Constructors for the failure classes the relay core produces. Nothing
// built from these is fatal to the process: callers log, degrade, or
// reply to the client and keep running.

// DomainNotFoundError marks a web3 domain with no resolvable record.
func DomainNotFoundError(domain string) *AppError {
	return New(ErrorTypeResolution, "DOMAIN_NOT_FOUND", fmt.Sprintf("domain %s not found in registry", domain)).
		WithSeverity(SeverityLow)
}

// NetworkError marks a transport failure during resolution or probing.
func NetworkError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeNetwork, "NETWORK_ERROR", fmt.Sprintf("%s failed", operation)).
		WithSeverity(SeverityMedium)
}

// InvalidResponseError marks a malformed reply from a resolver or registry.
func InvalidResponseError(source string, cause error) *AppError {
	return Wrap(cause, ErrorTypeResolution, "INVALID_RESPONSE", fmt.Sprintf("malformed response from %s", source)).
		WithSeverity(SeverityLow)
}

// ResolutionError marks a generic web3 lookup failure.
func ResolutionError(domain string, cause error) *AppError {
	return Wrap(cause, ErrorTypeResolution, "RESOLUTION_FAILED", fmt.Sprintf("failed to resolve %s", domain)).
		WithSeverity(SeverityLow)
}

// AuthDeniedError marks a failed credential check. Returned to the
// connecting client as a structured deny reason; the connection stays
// open until the auth timeout.
func AuthDeniedError(reason string) *AppError {
	return New(ErrorTypeAuth, "AUTH_DENIED", reason).
		WithSeverity(SeverityLow)
}

// ProtocolViolationError marks a malformed or unknown wire message.
// Logged and ignored; the connection remains open.
func ProtocolViolationError(msgType, reason string) *AppError {
	return New(ErrorTypeProtocol, "PROTOCOL_VIOLATION", fmt.Sprintf("invalid %s message: %s", msgType, reason)).
		WithSeverity(SeverityLow)
}

// SessionNotFoundError marks a join/leave against an unknown session id.
func SessionNotFoundError(sessionID string) *AppError {
	return New(ErrorTypeProtocol, "SESSION_NOT_FOUND", fmt.Sprintf("session %s does not exist", sessionID)).
		WithSeverity(SeverityLow)
}

// ServerExistsError marks an addServer call with an already-saved URL.
func ServerExistsError(url string) *AppError {
	return New(ErrorTypeConfig, "SERVER_EXISTS", fmt.Sprintf("server %s is already in the saved list", url)).
		WithSeverity(SeverityLow)
}

// RegistryUnavailableError marks an unreachable trust registry.
// Report/ban queries degrade to "unknown"/"not banned" instead of
// failing the caller.
func RegistryUnavailableError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeRegistry, "REGISTRY_UNAVAILABLE", fmt.Sprintf("trust registry %s failed", operation)).
		WithSeverity(SeverityMedium)
}

// ConfigurationError marks an invalid operator-supplied setting.
func ConfigurationError(field, reason string) *AppError {
	return New(ErrorTypeConfig, "CONFIGURATION_ERROR", fmt.Sprintf("configuration error in %s: %s", field, reason)).
		WithSeverity(SeverityMedium)
}

// StorageError marks a state-store read/write failure.
func StorageError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeStorage, "STORAGE_ERROR", fmt.Sprintf("store %s failed", operation)).
		WithSeverity(SeverityHigh)
}

// InternalError creates an internal error
func InternalError(message string, cause error) *AppError {
	return Wrap(cause, ErrorTypeInternal, "INTERNAL_ERROR", message).
		WithSeverity(SeverityHigh)
}
