package config

import "path/filepath"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:       "info",
			ConversationID: "default",
		},
		API: APIConfig{
			BaseURL:        "http://localhost:8090",
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			DBPath:          filepath.Join(DefaultConfigDir(), "cache.db"),
			MessagePageSize: 50,
		},
	}
}
