package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Suggestion string
}

// Registered codes.
const (
	CodeBackend       = "P001"
	CodeEncode        = "P002"
	CodeInvalidKey    = "P003"
	CodeHubRequest    = "P010"
	CodeHubProtocol   = "P011"
	CodeInvalidConfig = "P020"
	CodeUnknownStore  = "P021"
	CodeUsage         = "P030"
)

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Storage (P001-P009)
	CodeBackend: {
		Category:   CategoryStorage,
		Message:    "Storage backend failure",
		Suggestion: "Check that the storage location is reachable and writable.",
	},
	CodeEncode: {
		Category: CategoryStorage,
		Message:  "Value could not be encoded",
	},
	CodeInvalidKey: {
		Category:   CategoryStorage,
		Message:    "Invalid storage key",
		Suggestion: "Keys must be non-empty and must not contain NUL bytes.",
	},

	// Hub protocol (P010-P019)
	CodeHubRequest: {
		Category:   CategoryProtocol,
		Message:    "Hub request failed",
		Suggestion: "Check that `pulse serve` is running and the hub URL is correct.",
	},
	CodeHubProtocol: {
		Category: CategoryProtocol,
		Message:  "Malformed hub message",
	},

	// Configuration (P020-P029)
	CodeInvalidConfig: {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
	},
	CodeUnknownStore: {
		Category:   CategoryConfig,
		Message:    "Unknown storage backend",
		Suggestion: "Use one of: memory, file, s3, hub.",
	},

	// CLI (P030-P039)
	CodeUsage: {
		Category: CategoryCLI,
		Message:  "Invalid command usage",
	},
}

// Registered reports whether code has a template.
func Registered(code string) bool {
	_, ok := registry[code]
	return ok
}
