package api

import (
	"net"
	"strconv"
	"time"
)

// APIConfig tunes the HTTP server carrying the file API. The timeouts
// guard against slow clients holding connections; uploads and downloads
// stream through presigned URLs, so they can stay tight.
type APIConfig struct {
	// Enabled is a pointer so an absent key means on while an explicit
	// false turns the server off (queue-worker-only deployments).
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Host is the bind address. Empty binds every interface.
	Host string `mapstructure:"host" yaml:"host,omitempty"`

	// Port is the listen port (default 8080).
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout bounds reading one request including its body.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds writing one response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive waits between requests.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// IsEnabled reports whether the API server should start; unset means on.
func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Addr returns the host:port the server binds.
func (c *APIConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *APIConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
