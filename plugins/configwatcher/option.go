package configwatcher

import "github.com/bft-labs/enginehost/pkg/host"

// WithConfigWatcher returns a host Option that enables config file
// watching.
//
// Usage:
//
//	h, err := host.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        DebounceDelay: 100 * time.Millisecond,
//	        Changed:       changed,
//	    }),
//	)
func WithConfigWatcher(cfg Config) host.Option {
	return host.WithPlugin(New(cfg))
}

// WithDefaultConfigWatcher returns a host Option that enables config
// watching with default settings.
func WithDefaultConfigWatcher() host.Option {
	return WithConfigWatcher(DefaultConfig())
}
