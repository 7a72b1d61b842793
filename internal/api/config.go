package api

import "time"

type Config struct {
	// Proxy lists the reverse proxies allowed to set the client address
	// header. Without trusted proxies the header is ignored.
	Proxy struct {
		Header  string   `yaml:"header"`
		Trusted []string `yaml:"trusted"`
	} `yaml:"proxy"`

	HTTP struct {
		Addr         string        `yaml:"addr"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`

		// BodyLimit caps staged item values, in bytes. Fiber's default
		// of 4MB applies when unset.
		BodyLimit int `yaml:"body_limit"`
	} `yaml:"http"`
}
