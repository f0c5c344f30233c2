package config

import "strings"

type Config struct {
	Server    ServerConfig
	TMDB      TMDBConfig
	Places    PlacesConfig
	Storage   StorageConfig
	Recommend RecommendConfig
	Sync      SyncConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type TMDBConfig struct {
	APIKey  string
	BaseURL string
}

type PlacesConfig struct {
	APIKey  string
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type RecommendConfig struct {
	Count int
}

type SyncConfig struct {
	Pages    int
	Interval string // duration string, e.g. "6h"
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		TMDB: TMDBConfig{
			BaseURL: "https://api.themoviedb.org/3",
		},
		Places: PlacesConfig{
			BaseURL: "https://api.yelp.com/v3",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Recommend: RecommendConfig{
			Count: 5,
		},
		Sync: SyncConfig{
			Pages:    2,
			Interval: "6h",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.whatnext.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/whatnext/config.json
// and secrets live in a file under $XDG_DATA_HOME/whatnext.
//
// Environment variables (WHATNEXT_*) override backend values on all
// platforms. Missing provider API keys are not an error: providers degrade
// to "no data" and warn once at first use.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for API keys still empty.
	if cfg.TMDB.APIKey == "" {
		if key, err := kc.Get(secretService, "tmdb_api_key"); err == nil && key != "" {
			cfg.TMDB.APIKey = key
		}
	}
	if cfg.Places.APIKey == "" {
		if key, err := kc.Get(secretService, "places_api_key"); err == nil && key != "" {
			cfg.Places.APIKey = key
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
