package agent

import (
	"time"

	"offlinegate/internal/version"
)

const (
	DefaultAPIPrefix = "/news"
	DefaultShellPath = "/index.html"
)

// DefaultManifest is the application shell cached at install time.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/style.css",
	"/manifest.json",
}

// Options are the deploy-time constants of one agent version.
type Options struct {
	Generation   string
	Manifest     []string
	APIPrefix    string
	ShellPath    string
	MaxBodyBytes int64
	// WriteTimeout bounds detached cache writes.
	WriteTimeout time.Duration
}

// DefaultOptions returns the options compiled into this build.
func DefaultOptions() Options {
	return Options{
		Generation:   version.Generation,
		Manifest:     append([]string(nil), DefaultManifest...),
		APIPrefix:    DefaultAPIPrefix,
		ShellPath:    DefaultShellPath,
		MaxBodyBytes: 1 << 20,
		WriteTimeout: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Generation == "" {
		o.Generation = d.Generation
	}
	if len(o.Manifest) == 0 {
		o.Manifest = d.Manifest
	}
	if o.APIPrefix == "" {
		o.APIPrefix = d.APIPrefix
	}
	if o.ShellPath == "" {
		o.ShellPath = d.ShellPath
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = d.MaxBodyBytes
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	return o
}
