package pubsub

import "time"

type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	Buffer       int           `yaml:"buffer"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

func (c Config) Enabled() bool {
	return len(c.Brokers) != 0 && c.Topic != ""
}
