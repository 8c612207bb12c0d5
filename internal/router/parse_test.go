package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInvocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want invocation
		ok   bool
	}{
		{in: "/block 5m", want: invocation{word: "block", args: []string{"5m"}}, ok: true},
		{in: "  /Block@PsarBot\t2h  ", want: invocation{word: "block", bot: "psarbot", args: []string{"2h"}}, ok: true},
		{in: "/mutelog\n20", want: invocation{word: "mutelog", args: []string{"20"}}, ok: true},
		{in: "/@psarbot", ok: false},
		{in: "hello /block", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := parseInvocation(tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
		if ok {
			require.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestNewReqID(t *testing.T) {
	t.Parallel()

	a, b := newReqID(), newReqID()
	require.Len(t, a, 12)
	require.NotEqual(t, a, b)
	require.NotContains(t, a, "-")
}
