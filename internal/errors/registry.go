package errors

// Template defines a registered error.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

var registry = map[string]Template{
	// ============================================
	// Configuration Errors (E200-E299)
	// ============================================

	"E200": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Suggestion: "Run 'lumen serve' without --config to use defaults, or create lumen.toml",
	},
	"E201": {
		Category:   CategoryConfig,
		Message:    "Config file could not be parsed",
		Suggestion: "Check the file for syntax errors",
	},
	"E202": {
		Category:   CategoryConfig,
		Message:    "Unsupported config format",
		Detail:     "Config files must end in .toml or .json.",
		Suggestion: "Rename the file to lumen.toml or lumen.json",
	},
	"E203": {
		Category:   CategoryConfig,
		Message:    "Invalid listen address",
		Detail:     "Listen addresses have the form host:port.",
		Suggestion: "Use an address like \":8081\" or \"0.0.0.0:8081\"",
	},
	"E204": {
		Category:   CategoryConfig,
		Message:    "Update rate out of range",
		Suggestion: "Use a rate between 1 and 120",
	},
	"E205": {
		Category:   CategoryConfig,
		Message:    "Invalid duration",
		Suggestion: "Durations use Go syntax, e.g. \"30s\", \"1m\" or \"250ms\"",
	},
	"E206": {
		Category: CategoryConfig,
		Message:  "Invalid matrix size",
		Detail:   "Width and height must be between 1 and 65535 and the frame must fit in a message.",
	},
	"E207": {
		Category:   CategoryConfig,
		Message:    "Invalid compression settings",
		Suggestion: "min_ratio must be in (0, 1) and min_size must be positive",
	},
	"E208": {
		Category:   CategoryConfig,
		Message:    "Diff threshold out of range",
		Suggestion: "Use a threshold in (0, 1]; 0.25 sends a full frame once a quarter of the pixels change",
	},
	"E209": {
		Category: CategoryConfig,
		Message:  "Archive misconfigured",
		Detail:   "An archive bucket needs a positive interval.",
	},
	"E210": {
		Category:   CategoryConfig,
		Message:    "Invalid log settings",
		Suggestion: "level is one of debug, info, warn, error; format is text or json",
	},
	"E211": {
		Category: CategoryConfig,
		Message:  "Config file could not be written",
	},
	"E212": {
		Category:   CategoryConfig,
		Message:    "Invalid session limits",
		Suggestion: "max_sessions must not be negative",
	},

	// ============================================
	// CLI Errors (E300-E399)
	// ============================================

	"E300": {
		Category:   CategoryCLI,
		Message:    "Could not listen",
		Suggestion: "Check that no other process is using the port",
	},
	"E301": {
		Category:   CategoryCLI,
		Message:    "Server did not answer",
		Detail:     "No Ack arrived for the Connect before the timeout.",
		Suggestion: "Check the address and that 'lumen serve' is running",
	},
	"E302": {
		Category: CategoryCLI,
		Message:  "Capture file could not be read",
	},
	"E303": {
		Category: CategoryCLI,
		Message:  "Invalid argument",
	},
	"E304": {
		Category: CategoryCLI,
		Message:  "Admin server failed",
	},
	"E305": {
		Category:   CategoryCLI,
		Message:    "Archive setup failed",
		Suggestion: "Check the AWS credentials and region in the environment",
	},
}

// Codes returns all registered error codes.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// Lookup returns the template for an error code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds or replaces an error template.
func Register(code string, template Template) {
	registry[code] = template
}
