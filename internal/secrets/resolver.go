// Package secrets resolves credential URIs into secret values. Resolved
// values are handed to source constructors and are never persisted or logged.
package secrets

import (
	"os"
	"strings"

	"threat-enricher/internal/common/errors"
)

// Resolver resolves a secret URI into its value. The boolean is false when
// the secret is absent, which callers treat as "source not configured"
// rather than an error.
type Resolver interface {
	Resolve(uri string) (string, bool, error)
}

// URIResolver resolves env: and file: secret URIs.
//
//	env:REPUTATION_API_KEY   value of the environment variable
//	file:/run/secrets/key    trimmed contents of the file
type URIResolver struct{}

// NewResolver returns the default URI resolver.
func NewResolver() *URIResolver {
	return &URIResolver{}
}

// Resolve looks up the secret behind the URI. An empty URI and an unset
// env variable both report absence; a file that cannot be read is an error
// since its presence was asserted by configuration.
func (r *URIResolver) Resolve(uri string) (string, bool, error) {
	if uri == "" {
		return "", false, nil
	}

	switch {
	case strings.HasPrefix(uri, "env:"):
		value := os.Getenv(strings.TrimPrefix(uri, "env:"))
		if value == "" {
			return "", false, nil
		}
		return value, true, nil

	case strings.HasPrefix(uri, "file:"):
		path := strings.TrimPrefix(uri, "file:")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", false, nil
			}
			return "", false, errors.InternalError("failed to read secret file", err)
		}
		value := strings.TrimSpace(string(data))
		if value == "" {
			return "", false, nil
		}
		return value, true, nil

	default:
		return "", false, errors.ConfigError("unsupported secret URI scheme: " + uri)
	}
}

var _ Resolver = (*URIResolver)(nil)
