package cachefront

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cachefront/cachefront/cache"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration consumed by the cachefront binary.
type FileConfig struct {
	Listen         string            `yaml:"listen"`
	Target         string            `yaml:"target"`
	Provider       string            `yaml:"provider"`
	DBFile         string            `yaml:"dbFile"`
	MaxAge         string            `yaml:"maxAge"`
	MaxSize        int64             `yaml:"maxSize"`
	LRU            *bool             `yaml:"lru"`
	SetHeaders     map[string]string `yaml:"setHeaders"`
	IgnoreHeaders  []string          `yaml:"ignoreHeaders"`
	CacheMethods   []string          `yaml:"cacheMethods"`
	FollowRedirect bool              `yaml:"followRedirect"`
	Routes         []RouteEntry      `yaml:"routes"`
}

// RouteEntry mounts the proxy under a path with its own rewriting rule.
type RouteEntry struct {
	Mount       string `yaml:"mount"`
	StripPrefix string `yaml:"stripPrefix"`
	BasePath    string `yaml:"basePath"`
}

func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// ProxyConfig converts the file configuration into a proxy Config.
// The store and logger are wired up by the caller.
func (c FileConfig) ProxyConfig() (Config, error) {
	config := Config{
		Target:         c.Target,
		IgnoreHeaders:  c.IgnoreHeaders,
		CacheMethods:   c.CacheMethods,
		FollowRedirect: c.FollowRedirect,
		Cache: cache.Config{
			MaxSize: c.MaxSize,
			NoLRU:   c.LRU != nil && !*c.LRU,
		},
	}
	if c.MaxAge != "" {
		maxAge, err := time.ParseDuration(c.MaxAge)
		if err != nil {
			return config, fmt.Errorf("invalid maxAge: %w", err)
		}
		config.Cache.MaxAge = maxAge
	}
	if len(c.SetHeaders) > 0 {
		config.SetHeaders = make(http.Header, len(c.SetHeaders))
		for name, value := range c.SetHeaders {
			config.SetHeaders.Set(name, value)
		}
	}
	return config, nil
}
