package providers

import "fmt"

// Factory constructs a Provider from a provider entry's free-form settings
// and resolved credential value. Concrete provider packages (providers/
// openai, providers/anthropic, providers/bedrock, providers/dummy) register
// a Factory under their type name from an init func, so that config loading
// in the root package never imports a concrete provider package directly.
type Factory func(settings map[string]any, credential string) (Provider, error)

var factories = make(map[string]Factory)

// RegisterFactory makes a provider type buildable from config. Called from
// the init() of each providers/<name> package that is blank-imported by the
// binary (see cmd/gatewayctl).
func RegisterFactory(providerType string, f Factory) {
	factories[providerType] = f
}

// Build constructs a Provider of the given registered type.
func Build(providerType string, settings map[string]any, credential string) (Provider, error) {
	f, ok := factories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q (forgot a blank import?)", providerType)
	}
	return f(settings, credential)
}

// KnownTypes lists every provider type registered so far, for diagnostics.
func KnownTypes() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
