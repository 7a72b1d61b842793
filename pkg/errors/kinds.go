package errors

import "fmt"

// Kind classifies transaction failures. Callers switch on the kind
// instead of matching concrete error types.
type Kind int

const (
	// KindBackend is any unexpected failure of the transaction backend,
	// including rejected arguments. Errors that carry no kind are
	// reported as KindBackend.
	KindBackend Kind = iota

	// KindUnsupportedNesting is returned by Begin when the session
	// is already in a transaction and nesting is not enabled.
	KindUnsupportedNesting

	// KindRollbackOccurred means commit was requested, but the
	// transaction was rolled back instead.
	KindRollbackOccurred

	// KindAccessDenied means the caller may not perform the operation.
	KindAccessDenied

	// KindIllegalState means there is no transaction to operate on.
	KindIllegalState
)

func (k Kind) String() string {
	switch k {
	case KindBackend:
		return "backend-error"
	case KindUnsupportedNesting:
		return "unsupported-nesting"
	case KindRollbackOccurred:
		return "rollback-occurred"
	case KindAccessDenied:
		return "access-denied"
	case KindIllegalState:
		return "illegal-state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type TxnError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *TxnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *TxnError) Unwrap() error {
	return e.Err
}

// Newk builds a classified error for operation op.
func Newk(kind Kind, op string, cause error) error {
	return &TxnError{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of the outermost classified error in the
// chain, or KindBackend when the chain carries none.
func KindOf(err error) Kind {
	var te *TxnError
	if As(err, &te) {
		return te.Kind
	}
	return KindBackend
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a caller may reasonably retry the unit of
// work. Illegal state and denied access are programming or
// authorization errors and retrying them changes nothing.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindBackend, KindRollbackOccurred:
		return true
	default:
		return false
	}
}
