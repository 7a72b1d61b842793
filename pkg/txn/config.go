package txn

import (
	"time"

	"github.com/nikmy/usertxn/pkg/errors"
)

type Config struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	Nesting        bool          `yaml:"nesting"`

	// Grants maps a role to the operations it may perform.
	// Without grants every caller may commit and roll back.
	Grants map[string][]string `yaml:"grants"`
}

func (c Config) Options() ([]Option, error) {
	opts := []Option{WithDefaultTimeout(c.DefaultTimeout)}

	if c.Nesting {
		opts = append(opts, WithNesting())
	}

	if len(c.Grants) == 0 {
		return opts, nil
	}

	grants := make(map[string][]Operation, len(c.Grants))
	for role, ops := range c.Grants {
		for _, raw := range ops {
			op, err := ParseOperation(raw)
			if err != nil {
				return nil, errors.WrapFailf(err, "parse grants of role %q", role)
			}
			grants[role] = append(grants[role], op)
		}
	}

	return append(opts, WithAuthorizer(NewRoleAuthorizer(grants))), nil
}
