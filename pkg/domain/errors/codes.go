package errors

// Code represents an error code
type Code string

// Error codes shared across the gateway
const (
	CodeUnknown              Code = "UNKNOWN"               // Unknown error occurred
	CodeInternalError        Code = "INTERNAL_ERROR"        // Internal system error
	CodeInvalidParameter     Code = "INVALID_PARAMETER"     // Invalid parameter provided
	CodeMissingParameter     Code = "MISSING_PARAMETER"     // Required parameter missing
	CodeIoError              Code = "IO_ERROR"              // Input/output operation failed
	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID" // Configuration invalid
	CodeNotFound             Code = "NOT_FOUND"             // Not found
	CodeAlreadyExists        Code = "ALREADY_EXISTS"        // Already exists
	CodeOperationFailed      Code = "OPERATION_FAILED"      // Operation failed

	// Token verification error codes
	CodeAuthRequired      Code = "AUTH_REQUIRED"       // No token supplied
	CodeTokenMalformed    Code = "TOKEN_MALFORMED"     // Token is not a decodable JWT
	CodeTokenBadSignature Code = "TOKEN_BAD_SIGNATURE" // Token signature does not verify
	CodeTokenWrongIssuer  Code = "TOKEN_WRONG_ISSUER"  // Token issuer does not match
	CodeTokenExpired      Code = "TOKEN_EXPIRED"       // Token expiry has passed
	CodeTokenPayloadShape Code = "TOKEN_PAYLOAD_SHAPE" // Token claims are missing or malformed

	// Session error codes
	CodeSessionNotFound Code = "SESSION_NOT_FOUND" // Session id is unknown
	CodeSessionExpired  Code = "SESSION_EXPIRED"   // Session has expired

	// Authorization error codes
	CodeNoRuleForResource Code = "NO_RULE_FOR_RESOURCE" // No rule registered for the resource
	CodeMissingScopes     Code = "MISSING_SCOPES"       // Caller lacks required scopes
	CodePredicateDenied   Code = "PREDICATE_DENIED"     // Custom authorization predicate denied

	// Pipeline error codes
	CodeToolNotFound        Code = "TOOL_NOT_FOUND"        // Tool not found
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"   // Rate limit window is full
	CodeBlockedByMiddleware Code = "BLOCKED_BY_MIDDLEWARE" // A middleware blocked the request
	CodeHandlerFailed       Code = "HANDLER_FAILED"        // Tool handler returned an error

	// Vault error codes
	CodeKeyringUnavailable Code = "KEYRING_UNAVAILABLE" // OS keyring cannot be reached
	CodeSecretNotFound     Code = "SECRET_NOT_FOUND"    // Secret key is not stored
)
