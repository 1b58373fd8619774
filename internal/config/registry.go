package config

import (
	"errors"
	"fmt"

	"github.com/goccy/go-yaml"
)

// Modality is the declared output capability of a model registry entry.
type Modality string

const (
	ModalityChat  Modality = "chat"
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
)

// Validate checks that a Modality is one of the known values, defaulting
// an empty value to chat.
func (m *Modality) Validate() error {
	switch *m {
	case "":
		*m = ModalityChat
		return nil
	case ModalityChat, ModalityImage, ModalityVideo:
		return nil
	default:
		return fmt.Errorf("bad modality value: must be empty or one of %q, %q, %q",
			ModalityChat, ModalityImage, ModalityVideo)
	}
}

func unmarshalModalityYAML(value *Modality, data []byte) error {
	var s string
	if err := yaml.Unmarshal(data, &s); err != nil {
		return err
	}
	*value = Modality(s)
	return value.Validate()
}

// ModelRegistryEntry is the seed list of models the bridge advertises on
// GET /v1/models before the peer's own model_registry push replaces it.
type ModelRegistryEntry struct {
	// PublicName is the model id clients request (the OpenAI "model" field).
	PublicName string `yaml:"public_name"`

	// UpstreamID is the opaque model identifier the peer sends upstream.
	UpstreamID string `yaml:"upstream_id"`

	// Modality determines how the wire codec renders the final content.
	Modality Modality `yaml:"modality,omitempty"`
}

// Validate checks that required fields are present.
func (e *ModelRegistryEntry) Validate() error {
	if e.PublicName == "" {
		return errors.New("public_name must be specified in model registry entry")
	}
	if e.UpstreamID == "" {
		return errors.New("upstream_id must be specified in model registry entry")
	}
	return e.Modality.Validate()
}

func unmarshalModelRegistryEntry(value *ModelRegistryEntry, data []byte) error {
	type Aux ModelRegistryEntry
	var aux Aux
	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}
	*value = ModelRegistryEntry(aux)
	return value.Validate()
}

// WarmupPlanEntry is one line of the warmup plan the session pool executes
// against the peer once it reports connected.
type WarmupPlanEntry struct {
	// Model is the public model name to warm sessions for.
	Model string `yaml:"model"`

	// Count is how many sessions to create for this model.
	Count int `yaml:"count"`

	// InitialPrompt is the throwaway first message sent to mint the session.
	InitialPrompt string `yaml:"initial_prompt"`
}

// Validate checks that required fields are present and Count is positive.
func (e *WarmupPlanEntry) Validate() error {
	if e.Model == "" {
		return errors.New("model must be specified in warmup plan entry")
	}
	if e.Count <= 0 {
		return errors.New("count must be positive in warmup plan entry")
	}
	if e.InitialPrompt == "" {
		e.InitialPrompt = "Hello"
	}
	return nil
}

func unmarshalWarmupPlanEntry(value *WarmupPlanEntry, data []byte) error {
	type Aux WarmupPlanEntry
	var aux Aux
	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}
	*value = WarmupPlanEntry(aux)
	return value.Validate()
}

// Mode is the upstream conversation shape the peer drives.
type Mode string

const (
	ModeDirectChat Mode = "direct_chat"
	ModeBattle     Mode = "battle"
)

// Validate checks that a Mode is one of the known values, defaulting an
// empty value to direct_chat.
func (m *Mode) Validate() error {
	switch *m {
	case "":
		*m = ModeDirectChat
		return nil
	case ModeDirectChat, ModeBattle:
		return nil
	default:
		return fmt.Errorf("bad mode value: must be empty or one of %q, %q", ModeDirectChat, ModeBattle)
	}
}

// EndpointMapEntry binds a model to a specific warmed upstream conversation
// pair, optionally overriding the global mode/battle-target.
type EndpointMapEntry struct {
	SessionID    string `yaml:"session_id" json:"sessionId"`
	MessageID    string `yaml:"message_id" json:"messageId"`
	Mode         Mode   `yaml:"mode,omitempty" json:"mode,omitempty"`
	BattleTarget string `yaml:"battle_target,omitempty" json:"battleTarget,omitempty"`
}

// Validate checks that the entry is not an empty placeholder.
func (e *EndpointMapEntry) Validate() error {
	if e.SessionID == "" || e.MessageID == "" {
		return errors.New("session_id and message_id must be specified in endpoint map entry")
	}
	if e.Mode != "" {
		return (&e.Mode).Validate()
	}
	return nil
}

// EndpointMap maps a public model name to one or more candidate endpoint
// entries; when more than one is present, the orchestrator picks one at
// random per spec §4.F step 2.
type EndpointMap map[string][]EndpointMapEntry

// LoadModelRegistry reads the declarative model registry YAML file.
func LoadModelRegistry(path string) ([]ModelRegistryEntry, error) {
	var entries []ModelRegistryEntry
	if err := readYAMLFile(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// LoadWarmupPlan reads the declarative warmup plan YAML file.
func LoadWarmupPlan(path string) ([]WarmupPlanEntry, error) {
	var entries []WarmupPlanEntry
	if err := readYAMLFile(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// LoadEndpointMap reads the model-to-endpoint map YAML file.
func LoadEndpointMap(path string) (EndpointMap, error) {
	raw := map[string]interface{}{}
	if err := readYAMLFile(path, &raw); err != nil {
		return nil, err
	}

	m := make(EndpointMap, len(raw))
	for model, value := range raw {
		// Re-decode each value as either a single entry or a list, since
		// the file format allows both shapes for the same key.
		var list []EndpointMapEntry
		var single EndpointMapEntry

		data, err := yaml.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("endpoint map entry for %q: %w", model, err)
		}
		if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
			m[model] = list
			continue
		}
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("endpoint map entry for %q: %w", model, err)
		}
		if err := single.Validate(); err != nil {
			return nil, fmt.Errorf("endpoint map entry for %q: %w", model, err)
		}
		m[model] = []EndpointMapEntry{single}
	}
	return m, nil
}

func init() {
	yaml.RegisterCustomUnmarshaler[Modality](unmarshalModalityYAML)
	yaml.RegisterCustomUnmarshaler[ModelRegistryEntry](unmarshalModelRegistryEntry)
	yaml.RegisterCustomUnmarshaler[WarmupPlanEntry](unmarshalWarmupPlanEntry)
}
