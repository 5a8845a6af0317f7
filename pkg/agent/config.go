package agent

import "github.com/neuroplastio/sensr-agent/samples"

// Config points the agent at its data directory and settings file. The settings file
// is reloaded while the agent runs.
type Config struct {
	DataDir      string `json:"dataDir"`
	SettingsFile string `json:"settingsFile"`
}

// Settings is the content of sensr.yml.
type Settings struct {
	// Reconnect restarts the source after a sample listener reports a lost connection.
	Reconnect               bool               `json:"reconnect"`
	ReconnectBackoffSeconds float64            `json:"reconnectBackoffSeconds"`
	Realtime                bool               `json:"realtime"`
	Bank                    samples.BankConfig `json:"bank"`
}

func DefaultSettings() Settings {
	return Settings{
		ReconnectBackoffSeconds: 5,
		Bank:                    samples.DefaultBankConfig(),
	}
}
