// Package registry holds static metadata about the models the gateway can
// serve. Descriptors are loaded once at process start and never mutated,
// so lookups need no locking.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"modelrelay/internal/core"
)

// Registry maps model ids to their descriptors.
type Registry struct {
	models map[string]core.ModelDescriptor
}

// New returns a registry populated with the built-in model table.
func New() *Registry {
	r := &Registry{models: make(map[string]core.ModelDescriptor, len(builtinModels))}
	for _, d := range builtinModels {
		r.models[d.ID] = d
	}
	return r
}

// LoadFile returns a registry with the built-in table merged with the
// descriptors from a YAML file. File entries override built-ins with the
// same id, so deployments can adjust limits without a rebuild.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model table: %w", err)
	}

	var overrides []core.ModelDescriptor
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse model table: %w", err)
	}

	r := New()
	for _, d := range overrides {
		if d.ID == "" {
			return nil, fmt.Errorf("model table entry missing id")
		}
		if d.Vendor == "" {
			return nil, fmt.Errorf("model table entry %q missing vendor", d.ID)
		}
		r.models[d.ID] = d
	}
	return r, nil
}

// Describe returns the descriptor for the given model id.
func (r *Registry) Describe(id string) (core.ModelDescriptor, error) {
	d, ok := r.models[id]
	if !ok {
		return core.ModelDescriptor{}, core.Errorf(core.CodeUnknownModel, "unknown model: %s", id)
	}
	return d, nil
}

// List returns all descriptors sorted by model id for stable listings.
func (r *Registry) List() []core.ModelDescriptor {
	out := make([]core.ModelDescriptor, 0, len(r.models))
	for _, d := range r.models {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of known models.
func (r *Registry) Count() int {
	return len(r.models)
}

// ValidateRequest checks the request against the model's declared
// capabilities. Violations are reported, never silently dropped.
func (r *Registry) ValidateRequest(req *core.ChatRequest) error {
	desc, err := r.Describe(req.Options.Model)
	if err != nil {
		return err
	}

	opts := req.Options
	if opts.ThinkingBudget != nil && !desc.SupportsThinking {
		return core.Errorf(core.CodeInvalidConfiguration,
			"model %s does not support a thinking budget", desc.ID)
	}
	if len(opts.Tools) > 0 && !desc.SupportsFunctionCalling {
		return core.Errorf(core.CodeInvalidConfiguration,
			"model %s does not support function calling", desc.ID)
	}
	if opts.MaxOutputTokens != nil && *opts.MaxOutputTokens > desc.MaxOutputTokens {
		return core.Errorf(core.CodeInvalidConfiguration,
			"max_output_tokens %d exceeds model %s limit of %d",
			*opts.MaxOutputTokens, desc.ID, desc.MaxOutputTokens)
	}

	for _, msg := range req.Messages {
		for _, part := range msg.Parts {
			if part.InlineData == nil && part.FileData == nil {
				continue
			}
			mime := partMIMEType(part)
			switch {
			case isImageMIME(mime) && !desc.SupportsVision:
				return core.Errorf(core.CodeInvalidConfiguration,
					"model %s does not support image input", desc.ID)
			case isAudioMIME(mime) && !desc.SupportsAudio:
				return core.Errorf(core.CodeInvalidConfiguration,
					"model %s does not support audio input", desc.ID)
			}
		}
	}
	return nil
}

func partMIMEType(p core.Part) string {
	if p.InlineData != nil {
		return p.InlineData.MIMEType
	}
	if p.FileData != nil {
		return p.FileData.MIMEType
	}
	return ""
}

func isImageMIME(mime string) bool {
	return len(mime) > 6 && mime[:6] == "image/"
}

func isAudioMIME(mime string) bool {
	return len(mime) > 6 && mime[:6] == "audio/"
}
