package domain

// Settings carries optional credentials for engines backed by external APIs.
type Settings struct {
	APIKey  string
	BaseURL string
}

func (s Settings) HasAPIKey() bool {
	return s.APIKey != ""
}

// SettingsView is the public projection of Settings. The key itself is never exposed.
type SettingsView struct {
	APIKeySet bool   `json:"openai_api_key_set"`
	BaseURL   string `json:"openai_base_url"`
}

func (s Settings) View() SettingsView {
	return SettingsView{APIKeySet: s.HasAPIKey(), BaseURL: s.BaseURL}
}

// SettingsPatch updates only the fields that are non-nil.
type SettingsPatch struct {
	APIKey  *string `json:"openai_api_key,omitempty"`
	BaseURL *string `json:"openai_base_url,omitempty"`
}
