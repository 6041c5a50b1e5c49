// Package workspace implements the workspace:// URI syntax and the
// content-addressed artifact store built atop it.
package workspace

import (
	"strings"
	"unicode/utf8"

	"github.com/erasmus-project/esrp/protocol"
)

const (
	scheme          = "workspace://"
	maxNamespaceLen = 64
	maxPathBytes    = 1024
)

// reservedNamespaces are recognizable but not rejected by Parse — a
// validator may flag them as advisory (ReservedNamespace).
var reservedNamespaces = map[string]bool{
	"system": true,
	"tmp":    true,
	"cache":  true,
}

// URI is a parsed workspace://<namespace>/<path> reference.
type URI struct {
	Namespace string
	Path      string
}

// Parse validates and decomposes s into a URI. Parse and Format are
// inverses: Format(Parse(s)) == s whenever Parse(s) succeeds.
func Parse(s string) (URI, error) {
	if !strings.HasPrefix(s, scheme) {
		return URI{}, protocol.NewFieldError(protocol.ErrInvalidUri, "uri", "missing workspace:// scheme")
	}
	rest := s[len(scheme):]

	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return URI{}, protocol.NewFieldError(protocol.ErrInvalidUri, "uri", "missing namespace/path separator")
	}
	namespace := rest[:idx]
	path := rest[idx+1:]

	if err := validateNamespace(namespace); err != nil {
		return URI{}, err
	}
	if err := validatePath(path); err != nil {
		return URI{}, err
	}
	return URI{Namespace: namespace, Path: path}, nil
}

func validateNamespace(namespace string) error {
	if namespace == "" {
		return protocol.NewFieldError(protocol.ErrInvalidNamespace, "namespace", "namespace must be non-empty")
	}
	if len(namespace) > maxNamespaceLen {
		return protocol.NewFieldError(protocol.ErrNamespaceTooLong, "namespace", "namespace exceeds 64 bytes")
	}
	for _, r := range namespace {
		if !isNamespaceChar(r) {
			return protocol.NewFieldError(protocol.ErrInvalidNamespace, "namespace", "namespace contains a disallowed character")
		}
	}
	return nil
}

func isNamespaceChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	default:
		return false
	}
}

func validatePath(path string) error {
	if path == "" {
		return protocol.NewFieldError(protocol.ErrInvalidPath, "path", "path must be non-empty")
	}
	if len(path) > maxPathBytes {
		return protocol.NewFieldError(protocol.ErrPathTooLong, "path", "path exceeds 1024 bytes")
	}
	if !utf8.ValidString(path) {
		return protocol.NewFieldError(protocol.ErrInvalidPath, "path", "path is not valid UTF-8")
	}
	if strings.IndexByte(path, 0) >= 0 {
		return protocol.NewFieldError(protocol.ErrInvalidPath, "path", "path contains a null byte")
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return protocol.NewFieldError(protocol.ErrInvalidPath, "path", "path must be relative")
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return protocol.NewFieldError(protocol.ErrPathTraversal, "path", "path contains a .. segment")
		}
	}
	return nil
}

// Format renders u back to its workspace:// string form, always using
// forward slashes regardless of host filesystem convention.
func (u URI) Format() string {
	return scheme + u.Namespace + "/" + u.Path
}

func (u URI) String() string {
	return u.Format()
}

// IsReservedNamespace reports whether u's namespace is one of the
// recognized-but-not-rejected reserved names (system, tmp, cache).
func (u URI) IsReservedNamespace() bool {
	return reservedNamespaces[u.Namespace]
}
