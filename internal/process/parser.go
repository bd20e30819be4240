package process

import "strings"

// PythonLogParser understands the default Python logging format,
// "LEVEL:logger:message", which pygls-based servers write to stderr.
// Lines in any other shape are reported at info unchanged.
func PythonLogParser(line string) (level, msg string) {
	prefix, rest, ok := strings.Cut(line, ":")
	if !ok {
		return "info", line
	}
	switch prefix {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
	default:
		return "info", line
	}
	if _, after, found := strings.Cut(rest, ":"); found {
		rest = after
	}
	return strings.ToLower(prefix), strings.TrimSpace(rest)
}
