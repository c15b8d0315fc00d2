package gateway

import (
	"github.com/lattice-ai/inference-gateway/internal/credentials"
	"github.com/lattice-ai/inference-gateway/internal/modelrouter"
	"github.com/lattice-ai/inference-gateway/internal/schema"
	"github.com/lattice-ai/inference-gateway/providers"
)

// ConfigError reports a problem found while loading or validating a Config.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "config: " + e.Message }

// InvalidMessageError reports a caller-shaped problem with an Input's
// message structure (not a schema mismatch).
type InvalidMessageError struct {
	Message string
}

func (e *InvalidMessageError) Error() string { return "invalid message: " + e.Message }

// InvalidRequestError reports a caller-shaped problem with inference
// parameters outside of Input itself.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string { return "invalid request: " + e.Message }

// SchemaValidationError reports that an Input field failed its configured
// JSON schema. Always fatal when raised against input; never raised against
// output (output failures are folded into InferenceResult.Parsed == nil).
type SchemaValidationError = schema.ValidationError

// ProviderError wraps an error returned by a specific provider attempt,
// tagged with whether the provider reported it as a client or server fault.
type ProviderError = modelrouter.ProviderError

// TimeoutError reports a bounded-time violation at one of the three nested
// scopes: model, provider, or variant.
type TimeoutError = modelrouter.TimeoutError

// ProvidersExhaustedError reports that every provider in a model's routing
// list failed. PerProviderErrors preserves the error each provider raised.
type ProvidersExhaustedError = modelrouter.ProvidersExhaustedError

// ApiKeyMissingError reports that a credential location could not be
// resolved and "skip validation" was not requested.
type ApiKeyMissingError = credentials.MissingCredentialError

// UnsupportedContentBlockError reports that a variant cannot embed a given
// content-block kind (e.g. dicl + file).
type UnsupportedContentBlockError = providers.UnsupportedContentBlockError
