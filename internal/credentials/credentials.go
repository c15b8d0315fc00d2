// Package credentials resolves a provider's configured CredentialLocation
// into the secret value a Provider implementation needs, and memoizes the
// result so that a file or environment variable is only read once per
// process even if many model providers reference the same location.
package credentials

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// Location is a parsed CredentialLocation string. The six forms, taken
// verbatim from a provider entry's "api_key_location" field:
//
//	env::VAR_NAME            read os.Getenv(VAR_NAME) once, cache the value
//	path::/abs/file          read the file once, cache its trimmed contents
//	path_from_env::VAR_NAME  os.Getenv(VAR_NAME) names a file path to read
//	dynamic::KEY             resolved per-request from the caller-supplied
//	                         credential map; never cached
//	sdk                      the provider resolves its own credentials
//	                         (e.g. the AWS default chain); Resolve is a no-op
//	none                     no credential is required
type Location struct {
	Kind string // "env" | "path" | "path_from_env" | "dynamic" | "sdk" | "none"
	Arg  string
}

// ParseLocation parses a CredentialLocation string into its Kind and Arg.
func ParseLocation(s string) (Location, error) {
	switch {
	case s == "sdk":
		return Location{Kind: "sdk"}, nil
	case s == "none":
		return Location{Kind: "none"}, nil
	case strings.HasPrefix(s, "env::"):
		return Location{Kind: "env", Arg: strings.TrimPrefix(s, "env::")}, nil
	case strings.HasPrefix(s, "path::"):
		return Location{Kind: "path", Arg: strings.TrimPrefix(s, "path::")}, nil
	case strings.HasPrefix(s, "path_from_env::"):
		return Location{Kind: "path_from_env", Arg: strings.TrimPrefix(s, "path_from_env::")}, nil
	case strings.HasPrefix(s, "dynamic::"):
		return Location{Kind: "dynamic", Arg: strings.TrimPrefix(s, "dynamic::")}, nil
	default:
		return Location{}, fmt.Errorf("unrecognized credential location %q", s)
	}
}

// Resolver resolves Locations to secret values, memoizing everything except
// "dynamic" lookups (which are request-scoped by definition).
type Resolver struct {
	mu    sync.Mutex
	cache map[string]string // keyed by providerType + "\x00" + location string
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]string)}
}

// Resolve returns the secret value for loc. dynamicCreds supplies values for
// "dynamic::KEY" locations; it may be nil when resolving "env"/"path"/
// "path_from_env"/"sdk"/"none" locations. skipValidation suppresses the
// "missing credential" error (used when a caller only wants to probe, e.g.
// health checks), returning "" instead.
func (r *Resolver) Resolve(providerType, rawLocation string, dynamicCreds map[string]string, skipValidation bool) (string, error) {
	loc, err := ParseLocation(rawLocation)
	if err != nil {
		return "", err
	}

	switch loc.Kind {
	case "none", "sdk":
		return "", nil
	case "dynamic":
		v, ok := dynamicCreds[loc.Arg]
		if !ok {
			if skipValidation {
				return "", nil
			}
			return "", &MissingCredentialError{ProviderType: providerType, Location: rawLocation}
		}
		return v, nil
	}

	key := providerType + "\x00" + rawLocation

	r.mu.Lock()
	if v, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	var value string
	var resolveErr error
	switch loc.Kind {
	case "env":
		v, ok := os.LookupEnv(loc.Arg)
		if !ok {
			resolveErr = &MissingCredentialError{ProviderType: providerType, Location: rawLocation}
		}
		value = v
	case "path":
		value, resolveErr = readTrimmedFile(loc.Arg)
	case "path_from_env":
		path, ok := os.LookupEnv(loc.Arg)
		if !ok {
			resolveErr = &MissingCredentialError{ProviderType: providerType, Location: rawLocation}
		} else {
			value, resolveErr = readTrimmedFile(path)
		}
	}

	if resolveErr != nil {
		if skipValidation {
			return "", nil
		}
		return "", resolveErr
	}

	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
	return value, nil
}

func readTrimmedFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("reading credential file %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// MissingCredentialError reports that a Location could not be resolved.
type MissingCredentialError struct {
	ProviderType string
	Location     string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("provider type %q: missing credential for location %q", e.ProviderType, e.Location)
}

// SDKTokenSource adapts a lazily-fetched, self-refreshing token (e.g. an
// OAuth2 access token obtained through a cloud SDK's own credential chain)
// into a cached oauth2.TokenSource, so "sdk"-form providers that speak
// OAuth2 (rather than a static API key) only refresh once per expiry.
func SDKTokenSource(fetch func() (*oauth2.Token, error)) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, tokenFetcherFunc(fetch))
}

type tokenFetcherFunc func() (*oauth2.Token, error)

func (f tokenFetcherFunc) Token() (*oauth2.Token, error) { return f() }
