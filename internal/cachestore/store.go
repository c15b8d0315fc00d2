// Package cachestore holds the cached result of a single model/provider
// inference, keyed by a content fingerprint computed from the outgoing
// ModelRequest (see internal/cachegate). Two backends are provided: Memory
// (an in-process LRU+TTL cache) and SQLite (a persistent cache shared across
// process restarts).
package cachestore

import (
	"encoding/json"
	"time"

	"github.com/lattice-ai/inference-gateway/providers"
)

// Data is the cached shape of a ModelRouter result: everything needed to
// reconstruct a ModelInferenceResult without re-calling the provider.
type Data struct {
	Output       []providers.ContentBlock
	RawRequest   string
	RawResponse  string
	Usage        providers.Usage
	FinishReason *string
	ModelName    string
	ProviderName string
}

// wireData is the JSON-serializable shape persisted by the SQLite backend;
// ContentBlock is an interface, so it is round-tripped through a tagged
// representation instead of Data's fields directly.
type wireData struct {
	Output       []wireBlock       `json:"output"`
	RawRequest   string            `json:"raw_request"`
	RawResponse  string            `json:"raw_response"`
	Usage        providers.Usage   `json:"usage"`
	FinishReason *string           `json:"finish_reason,omitempty"`
	ModelName    string            `json:"model_name"`
	ProviderName string            `json:"provider_name"`
}

type wireBlock struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Store is the persistence contract used by the CacheGate. Implementations
// must be safe for concurrent use.
type Store interface {
	Get(key string) (*Data, bool)
	Set(key string, data *Data, ttl time.Duration)
	Close() error
}

func toWire(d *Data) (*wireData, error) {
	blocks := make([]wireBlock, 0, len(d.Output))
	for _, b := range d.Output {
		raw, kind, err := encodeBlock(b)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, wireBlock{Kind: kind, Data: raw})
	}
	return &wireData{
		Output:       blocks,
		RawRequest:   d.RawRequest,
		RawResponse:  d.RawResponse,
		Usage:        d.Usage,
		FinishReason: d.FinishReason,
		ModelName:    d.ModelName,
		ProviderName: d.ProviderName,
	}, nil
}

func fromWire(w *wireData) (*Data, error) {
	blocks := make([]providers.ContentBlock, 0, len(w.Output))
	for _, wb := range w.Output {
		b, err := decodeBlock(wb.Kind, wb.Data)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return &Data{
		Output:       blocks,
		RawRequest:   w.RawRequest,
		RawResponse:  w.RawResponse,
		Usage:        w.Usage,
		FinishReason: w.FinishReason,
		ModelName:    w.ModelName,
		ProviderName: w.ProviderName,
	}, nil
}

func encodeBlock(b providers.ContentBlock) (json.RawMessage, string, error) {
	kind := providers.ContentBlockKind(b)
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, "", err
	}
	return raw, kind, nil
}

func decodeBlock(kind string, raw json.RawMessage) (providers.ContentBlock, error) {
	switch kind {
	case "text":
		var v providers.Text
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "raw_text":
		var v providers.RawText
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "tool_call":
		var v providers.ToolCall
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "tool_result":
		var v providers.ToolResult
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "file":
		var v providers.File
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "thought":
		var v providers.Thought
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "unknown":
		var v providers.Unknown
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return providers.Unknown{Data: raw}, nil
	}
}
