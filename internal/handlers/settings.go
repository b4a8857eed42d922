package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/resume-web-ui/internal/models"
)

type providerOption struct {
	ID       string
	Name     string
	Models   []models.ModelOption
	Model    string
	KeySet   bool
	Selected bool
}

type settingsPageData struct {
	Providers []providerOption
	Saved     bool
	Cleared   string
	Test      *models.ConnectionResult
}

// HandleSettings shows the LLM settings of the backend on GET. On POST it saves the "provider" form
// field, the "model_<provider>" field of that provider, and every non-empty "api_key_<provider>"
// field.
func (m Main) HandleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := m.backend.Settings(r.Context())
		if err != nil {
			m.logger.Error("Failed to get settings", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		q := r.URL.Query()
		m.renderSettings(w, settings, settingsPageData{Saved: q.Has("saved"), Cleared: q.Get("cleared")})

	case http.MethodPost:
		settings, err := m.backend.Settings(r.Context())
		if err != nil {
			m.logger.Error("Failed to get settings", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		provider, model, ok := selectedModel(r, settings)
		if !ok {
			http.Error(w, "Unknown provider or model", http.StatusBadRequest)
			return
		}

		req := models.SettingsUpdate{Provider: provider, Model: model}
		for _, id := range settings.ProviderIDs() {
			key := strings.TrimSpace(r.FormValue("api_key_" + id))
			if key == "" || key == models.APIKeyMask {
				continue
			}
			if req.APIKeys == nil {
				req.APIKeys = make(map[string]string)
			}
			req.APIKeys[id] = key
		}

		if err := m.backend.UpdateSettings(r.Context(), req); err != nil {
			m.logger.Error("Failed to save settings", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		m.logger.Info("Settings saved", slog.String("provider", provider), slog.String("model", model))
		http.Redirect(w, r, "/settings?saved=1", http.StatusSeeOther)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSettingsClearKey removes the API key of the "clear_provider" form field.
func (m Main) HandleSettingsClearKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	provider := r.FormValue("clear_provider")
	if provider == "" {
		http.Error(w, "Provider is required", http.StatusBadRequest)
		return
	}

	if err := m.backend.ClearAPIKey(r.Context(), provider); err != nil {
		m.logger.Error("Failed to clear api key",
			slog.String("provider", provider),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	http.Redirect(w, r, "/settings?"+url.Values{"cleared": {provider}}.Encode(), http.StatusSeeOther)
}

// HandleSettingsTest tries the selected provider and model, with the provider's "api_key_<provider>"
// field when filled in, and shows the settings page with the outcome. Nothing is saved.
func (m Main) HandleSettingsTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	settings, err := m.backend.Settings(r.Context())
	if err != nil {
		m.logger.Error("Failed to get settings", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	provider, model, ok := selectedModel(r, settings)
	if !ok {
		http.Error(w, "Unknown provider or model", http.StatusBadRequest)
		return
	}

	key := strings.TrimSpace(r.FormValue("api_key_" + provider))
	if key == models.APIKeyMask {
		key = ""
	}
	res, err := m.backend.TestConnection(r.Context(), models.ConnectionTest{Provider: provider, Model: model, APIKey: key})
	if err != nil {
		res = models.ConnectionResult{Message: err.Error()}
	}

	// The page shows the selection that was tested, not the saved one.
	settings.Provider, settings.Model = provider, model
	m.renderSettings(w, settings, settingsPageData{Test: &res})
}

// selectedModel reads the "provider" form field and the "model_<provider>" field. An empty model
// falls back to the provider's default model.
func selectedModel(r *http.Request, settings models.Settings) (string, string, bool) {
	provider := r.FormValue("provider")
	p, ok := settings.Providers[provider]
	if !ok {
		return "", "", false
	}
	model := r.FormValue("model_" + provider)
	if model == "" {
		model = p.DefaultModel
	}
	return provider, model, settings.HasModel(provider, model)
}

func (m Main) renderSettings(w http.ResponseWriter, settings models.Settings, data settingsPageData) {
	for _, id := range settings.ProviderIDs() {
		p := settings.Providers[id]
		opt := providerOption{
			ID:       id,
			Name:     p.Name,
			Models:   p.Models,
			Model:    p.DefaultModel,
			KeySet:   settings.APIKeysSet[id] != "",
			Selected: id == settings.Provider,
		}
		if opt.Selected {
			opt.Model = settings.Model
		}
		data.Providers = append(data.Providers, opt)
	}

	if err := m.templates.ExecuteTemplate(w, "settings.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
