package config

import (
	"os"
	"time"

	"github.com/spf13/pflag"
)

// Flags are the command line overrides shared by the CLIs. Only flags set
// on the command line replace values from the environment or config file.
type Flags struct {
	fs *pflag.FlagSet

	configFile    string
	apiHost       string
	clientID      string
	clientSecret  string
	appVersion    string
	outputDir     string
	workers       int
	httpTimeout   time.Duration
	retryInterval time.Duration
}

func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.configFile, "config", os.Getenv("VISION_CONFIG_FILE"), "YAML config file")
	fs.StringVar(&f.apiHost, "api-host", "", "classification service base URL")
	fs.StringVar(&f.clientID, "client-id", "", "client id used to sign requests")
	fs.StringVar(&f.clientSecret, "client-secret", "", "client secret used to sign requests")
	fs.StringVar(&f.appVersion, "app-version", "", "value of the app version header")
	fs.StringVarP(&f.outputDir, "output-dir", "o", "", "directory for output files")
	fs.IntVarP(&f.workers, "workers", "w", 0, "number of concurrent workers")
	fs.DurationVar(&f.httpTimeout, "http-timeout", 0, "timeout of a single HTTP call")
	fs.DurationVar(&f.retryInterval, "retry-interval", 0, "pause between retries and polls")
	return f
}

// Load reads the environment, overlays the config file if any, then applies
// the flags that were set.
func (f *Flags) Load() (*Config, error) {
	cfg, err := LoadFile(f.configFile)
	if err != nil {
		return nil, err
	}
	if f.fs.Changed("api-host") {
		cfg.APIHost = f.apiHost
	}
	if f.fs.Changed("client-id") {
		cfg.ClientID = f.clientID
	}
	if f.fs.Changed("client-secret") {
		cfg.ClientSecret = f.clientSecret
	}
	if f.fs.Changed("app-version") {
		cfg.AppVersion = f.appVersion
	}
	if f.fs.Changed("output-dir") {
		cfg.OutputDir = f.outputDir
	}
	if f.fs.Changed("workers") {
		cfg.MaxWorkers = f.workers
	}
	if f.fs.Changed("http-timeout") {
		cfg.HTTPTimeout = f.httpTimeout
	}
	if f.fs.Changed("retry-interval") {
		cfg.RetryInterval = f.retryInterval
	}
	return cfg, nil
}
