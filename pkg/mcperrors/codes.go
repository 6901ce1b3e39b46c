package mcperrors

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application-defined codes, all below -32000 per the JSON-RPC reserved
// range convention.
const (
	// Session lifecycle (-32000..-32009)
	CodeSessionNotReady    = -32000
	CodeSessionClosed      = -32001
	CodeSessionFailed      = -32002
	CodeAlreadyInitialized = -32003

	// Capability negotiation (-32010..-32019)
	CodeVersionMismatch    = -32010
	CodeCapabilityRequired = -32011

	// Request tracking (-32020..-32029)
	CodeOperationCancelled = -32020
	CodeOperationTimeout   = -32021

	// Transport (-32030..-32039)
	CodeTransportError  = -32030
	CodeTransportClosed = -32031

	// Domain (-32040..-32049)
	CodeResourceNotFound = -32040
	CodeValidationFailed = -32041
)

// CodeName returns the symbolic name of an error code for logs.
func CodeName(code int) string {
	switch code {
	case CodeParseError:
		return "ParseError"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeMethodNotFound:
		return "MethodNotFound"
	case CodeInvalidParams:
		return "InvalidParams"
	case CodeInternalError:
		return "InternalError"
	case CodeSessionNotReady:
		return "SessionNotReady"
	case CodeSessionClosed:
		return "SessionClosed"
	case CodeSessionFailed:
		return "SessionFailed"
	case CodeAlreadyInitialized:
		return "AlreadyInitialized"
	case CodeVersionMismatch:
		return "VersionMismatch"
	case CodeCapabilityRequired:
		return "CapabilityRequired"
	case CodeOperationCancelled:
		return "OperationCancelled"
	case CodeOperationTimeout:
		return "OperationTimeout"
	case CodeTransportError:
		return "TransportError"
	case CodeTransportClosed:
		return "TransportClosed"
	case CodeResourceNotFound:
		return "ResourceNotFound"
	case CodeValidationFailed:
		return "ValidationFailed"
	default:
		return "UnknownError"
	}
}
