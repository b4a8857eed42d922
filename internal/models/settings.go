package models

import "slices"

// Settings is the backend's LLM configuration. API keys are never returned; APIKeysSet holds a mask
// for every provider whose key is configured and an empty string otherwise.
type Settings struct {
	Provider   string                    `json:"provider"`
	Model      string                    `json:"model"`
	APIKeysSet map[string]string         `json:"api_keys_set"`
	Providers  map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig describes one LLM provider the backend supports.
type ProviderConfig struct {
	Name         string        `json:"name"`
	NameCN       string        `json:"name_cn,omitempty"`
	Type         string        `json:"type,omitempty"`
	BaseURL      string        `json:"base_url,omitempty"`
	EnvKey       string        `json:"env_key,omitempty"`
	Models       []ModelOption `json:"models"`
	DefaultModel string        `json:"default_model"`
}

// ModelOption is a model offered by a provider.
type ModelOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SettingsUpdate is the body for changing the LLM configuration. Keys missing from APIKeys, or set
// to APIKeyMask, are left unchanged.
type SettingsUpdate struct {
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	APIKeys  map[string]string `json:"api_keys,omitempty"`
}

// APIKeyMask is the value the backend reports for a configured API key.
const APIKeyMask = "••••••"

// providerOrder is the display order of the known providers.
var providerOrder = []string{"anthropic", "qwen", "zhipu", "deepseek", "moonshot", "baidu"}

// ProviderIDs returns the ids of the providers in s, known ones first in their usual order and the
// rest sorted.
func (s Settings) ProviderIDs() []string {
	ids := make([]string, 0, len(s.Providers))
	for _, id := range providerOrder {
		if _, ok := s.Providers[id]; ok {
			ids = append(ids, id)
		}
	}

	var rest []string
	for id := range s.Providers {
		if !slices.Contains(providerOrder, id) {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(ids, rest...)
}

// HasModel reports whether provider offers model.
func (s Settings) HasModel(provider, model string) bool {
	p, ok := s.Providers[provider]
	if !ok {
		return false
	}
	return slices.ContainsFunc(p.Models, func(m ModelOption) bool { return m.ID == model })
}

// ConnectionTest asks the backend to try a provider and model, with APIKey overriding the stored
// key when set.
type ConnectionTest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key,omitempty"`
}

// ConnectionResult is the outcome of a ConnectionTest.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
