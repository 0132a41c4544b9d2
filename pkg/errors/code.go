package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Transport & Handshake errors
// 12000-12999: Worker & Job supervision errors
// 13000-13999: Sandbox & Security errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalError ErrorCode = 10001
	InvalidParams ErrorCode = 10002
	NotFound      ErrorCode = 10003
	Timeout       ErrorCode = 10004

	// Configuration errors (10100-10199)
	ConfigInvalid  ErrorCode = 10100
	ConfigNotFound ErrorCode = 10101

	// ========== Transport & Handshake Errors (11000-11999) ==========

	// Framed channel (11000-11099)
	TransportError ErrorCode = 11000
	StreamClosed   ErrorCode = 11001
	FrameTooLarge  ErrorCode = 11002
	DecodeFailed   ErrorCode = 11003

	// Handshake (11100-11199)
	HandshakeFailed ErrorCode = 11100
	VersionMismatch ErrorCode = 11101

	// ========== Worker & Job Errors (12000-12999) ==========

	// Worker lifecycle (12000-12099)
	WorkerSpawnFailed ErrorCode = 12000
	WorkerDied        ErrorCode = 12001
	WorkerBusy        ErrorCode = 12002

	// Job supervision (12100-12199)
	JobSpawnFailed     ErrorCode = 12100
	JobPipeFailed      ErrorCode = 12101
	ArtifactWriteError ErrorCode = 12102

	// ========== Sandbox & Security Errors (13000-13999) ==========

	SeccompFailed ErrorCode = 13000
	RlimitFailed  ErrorCode = 13001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:       "Success",
	InternalError: "Internal error",
	InvalidParams: "Invalid parameters",
	NotFound:      "Resource not found",
	Timeout:       "Operation timed out",

	// Configuration
	ConfigInvalid:  "Invalid configuration",
	ConfigNotFound: "Configuration file not found",

	// Transport
	TransportError: "Transport failure",
	StreamClosed:   "Stream closed by peer",
	FrameTooLarge:  "Frame exceeds maximum size",
	DecodeFailed:   "Failed to decode payload",

	// Handshake
	HandshakeFailed: "Worker handshake failed",
	VersionMismatch: "Node and worker version mismatch",

	// Worker
	WorkerSpawnFailed: "Failed to spawn worker process",
	WorkerDied:        "Worker process died unexpectedly",
	WorkerBusy:        "Worker already has a job in flight",

	// Job supervision
	JobSpawnFailed:     "Failed to spawn job process",
	JobPipeFailed:      "Job result pipe failure",
	ArtifactWriteError: "Failed to write artifact file",

	// Sandbox
	SeccompFailed: "Failed to apply seccomp filter",
	RlimitFailed:  "Failed to apply resource limits",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}
