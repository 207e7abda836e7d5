package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags binds the fields of c to flags in fs, using the current
// values as defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "address the HTTP server listens on")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "time to wait for requests on shutdown")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")

	fs.StringVar(&c.ConverterURL, "converter-url", c.ConverterURL, "base URL of the conversion server")
	fs.BoolVar(&c.ConverterEnabled, "converter-enabled", c.ConverterEnabled, "advertise PDF renditions")
	fs.DurationVar(&c.ConverterTimeout, "converter-timeout", c.ConverterTimeout, "timeout of one conversion request")
	fs.StringVar(&c.SettingsFile, "settings-file", c.SettingsFile, "file the conversion settings are persisted in")

	fs.IntVar(&c.CacheMaxEntries, "cache-max-entries", c.CacheMaxEntries, "renditions kept per repository")
	fs.StringVar(&c.Store, "store", c.Store, "rendition store: disk, s3 or mem")
	fs.StringVar(&c.StoreDir, "store-dir", c.StoreDir, "root directory of the disk store")
	fs.BoolVar(&c.DebugBackend, "debug-backend", c.DebugBackend, "log every store operation")
	fs.StringVar(&c.LockMode, "lock-mode", c.LockMode, "conversion locks: none, mem (in-process) or flock (files in --lock-dir)")
	fs.StringVar(&c.LockDir, "lock-dir", c.LockDir, "directory of the flock lock files")

	fs.StringVar(&c.S3Bucket, "s3-bucket", c.S3Bucket, "S3 bucket")
	fs.StringVar(&c.S3Region, "s3-region", c.S3Region, "S3 region")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", c.S3Endpoint, "S3 endpoint for S3 compatible servers")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", c.S3AccessKey, "S3 access key (default credential chain if empty)")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", c.S3SecretKey, "S3 secret key")
	fs.StringVar(&c.S3Prefix, "s3-prefix", c.S3Prefix, "key prefix of all renditions")
	fs.BoolVar(&c.S3PathStyle, "s3-path-style", c.S3PathStyle, "use path style S3 addressing")

	fs.StringVar(&c.RepositoryRoot, "repository-root", c.RepositoryRoot, "directory holding <namespace>/<name> git repositories")
	fs.StringVar(&c.DatabaseDSN, "database-dsn", c.DatabaseDSN, "PostgreSQL DSN of the repository registry (overrides --repository-root)")

	fs.StringVar(&c.JWTSecret, "jwt-secret", c.JWTSecret, "HMAC secret of access tokens (configuration endpoints are closed if empty)")
}

// Load overlays the JSON file at path, if any, and then re-applies the flags
// set on the command line, so the precedence is defaults < JSON < flags.
// fs must have been parsed.
func (c *Config) Load(fs *pflag.FlagSet, path string) error {
	if path == "" {
		return c.Validate()
	}

	changed := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	if err := c.loadJSON(path); err != nil {
		return err
	}

	for name, value := range changed {
		if err := fs.Set(name, value); err != nil {
			return err
		}
	}
	return c.Validate()
}
