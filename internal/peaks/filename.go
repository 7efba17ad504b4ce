package peaks

import (
	"fmt"
	"path"
	"strings"
)

// DefaultSuffix is appended to the output stem when no filename rule is set.
const DefaultSuffix = "-peaks.json"

// NamingError reports a peaks filename that failed sanitization.
type NamingError struct {
	Name   string
	Reason string
}

// Error implements the error interface.
func (e *NamingError) Error() string {
	return fmt.Sprintf("invalid peaks filename %q: %s", e.Name, e.Reason)
}

// ResolveFilename applies rule to outputPath. Literal and computed names are
// sanitized; derived names sit alongside the output as <stem>-peaks.json.
func ResolveFilename(rule FilenameRule, outputPath string) (string, error) {
	switch {
	case rule.Func != nil:
		return Sanitize(rule.Func(outputPath))
	case rule.Literal != "":
		return Sanitize(rule.Literal)
	default:
		return DefaultFilename(outputPath), nil
	}
}

// DefaultFilename derives the peaks filename for an output path.
func DefaultFilename(outputPath string) string {
	dir, file := path.Split(outputPath)
	stem := strings.TrimSuffix(file, path.Ext(file))
	return dir + stem + DefaultSuffix
}

// Sanitize validates a caller-supplied peaks filename. Names must be
// relative, free of traversal segments, and limited to [A-Za-z0-9_.-/].
func Sanitize(name string) (string, error) {
	if name == "" {
		return "", &NamingError{Name: name, Reason: "empty name"}
	}
	if strings.IndexByte(name, 0) >= 0 {
		return "", &NamingError{Name: name, Reason: "contains null byte"}
	}
	if strings.HasPrefix(name, "/") {
		return "", &NamingError{Name: name, Reason: "absolute paths are not allowed"}
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", &NamingError{Name: name, Reason: "directory traversal is not allowed"}
		}
	}
	for i := 0; i < len(name); i++ {
		if !allowedByte(name[i]) {
			return "", &NamingError{
				Name:   name,
				Reason: fmt.Sprintf("character %q is not allowed", name[i]),
			}
		}
	}
	if strings.HasSuffix(name, "/") {
		return "", &NamingError{Name: name, Reason: "names a directory"}
	}
	return name, nil
}

func allowedByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '.', c == '-', c == '/':
		return true
	}
	return false
}
