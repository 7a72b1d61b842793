package txn

import (
	"context"
	"slices"

	"github.com/nikmy/usertxn/pkg/errors"
)

type Operation int

const (
	OpCommit Operation = iota
	OpRollback
)

func (o Operation) String() string {
	switch o {
	case OpCommit:
		return opCommit
	case OpRollback:
		return opRollback
	default:
		return "unknown"
	}
}

func ParseOperation(s string) (Operation, error) {
	switch s {
	case opCommit:
		return OpCommit, nil
	case opRollback:
		return OpRollback, nil
	default:
		return 0, errors.Errorf("unknown operation %q", s)
	}
}

type Authorizer interface {
	Authorize(ctx context.Context, op Operation) error
}

type AuthorizerFunc func(ctx context.Context, op Operation) error

func (f AuthorizerFunc) Authorize(ctx context.Context, op Operation) error {
	return f(ctx, op)
}

var AllowAll Authorizer = AuthorizerFunc(func(context.Context, Operation) error { return nil })

type Principal struct {
	Name  string
	Roles []string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// RoleAuthorizer grants operations per role. A principal may perform an
// operation if any of its roles is granted it.
type RoleAuthorizer struct {
	grants map[string][]Operation
}

func NewRoleAuthorizer(grants map[string][]Operation) *RoleAuthorizer {
	return &RoleAuthorizer{grants: grants}
}

func (a *RoleAuthorizer) Authorize(ctx context.Context, op Operation) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return errors.Fail("find principal in context")
	}

	for _, role := range p.Roles {
		if slices.Contains(a.grants[role], op) {
			return nil
		}
	}

	return errors.Errorf("principal %q is not allowed to %s", p.Name, op)
}
