package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	type testcase struct {
		name string
		err  error
		want Kind
	}

	cause := errors.New("mock")

	tests := [...]testcase{
		{
			name: "foreign error is backend",
			err:  cause,
			want: KindBackend,
		},
		{
			name: "direct kind",
			err:  Newk(KindIllegalState, "commit", nil),
			want: KindIllegalState,
		},
		{
			name: "wrapped kind",
			err:  WrapFail(Newk(KindAccessDenied, "rollback", cause), "rollback transaction"),
			want: KindAccessDenied,
		},
		{
			name: "outermost kind wins",
			err:  Newk(KindRollbackOccurred, "commit", Newk(KindBackend, "redis exec", cause)),
			want: KindRollbackOccurred,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, KindOf(tt.err))
			require.True(t, IsKind(tt.err, tt.want))
		})
	}
}

func TestIsKind_Nil(t *testing.T) {
	require.False(t, IsKind(nil, KindBackend))
}

func TestTxnError_Unwrap(t *testing.T) {
	cause := errors.New("mock")
	err := Newk(KindBackend, "begin", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, "begin: backend-error: mock", err.Error())
	require.Equal(t, "commit: illegal-state", Newk(KindIllegalState, "commit", nil).Error())
}

func TestRetryable(t *testing.T) {
	require.False(t, Retryable(nil))
	require.True(t, Retryable(errors.New("mock")))
	require.True(t, Retryable(Newk(KindRollbackOccurred, "commit", nil)))
	require.False(t, Retryable(Newk(KindIllegalState, "commit", nil)))
	require.False(t, Retryable(Newk(KindAccessDenied, "commit", nil)))
	require.False(t, Retryable(Newk(KindUnsupportedNesting, "begin", nil)))
}

func TestWrapFail(t *testing.T) {
	require.NoError(t, WrapFail(nil, "anything"))
	require.EqualError(t, WrapFail(errors.New("mock"), "start txn"), "can't start txn: mock")
	require.EqualError(t, Failf("find %q", "k"), `can't find "k"`)
}
