package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolveChallengeKnownVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{
			// Unscrambles to the XOR mask itself, so every pair cancels.
			name:  "token cancelling the mask",
			token: "6680710300576337218500600300095010053006",
			want:  strings.Repeat("0", 40),
		},
		{
			// All-f token unscrambles to all-f; result is mask XOR 0xff.
			name:  "all f token",
			token: strings.Repeat("f", 40),
			want:  "cfffe89fff7a9ff9f9eafeaccffc96ffd87ffc8a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SolveChallenge(tt.token)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSolveChallengeDeterministic(t *testing.T) {
	t.Parallel()

	token := "3000176000856006061501533003690027800375"
	first, err := SolveChallenge(token)
	require.NoError(t, err)
	second, err := SolveChallenge(token)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 40)
	require.Equal(t, strings.ToLower(first), first)
}

func TestSolveChallengeRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := SolveChallenge("too short")
	require.Error(t, err)

	_, err = SolveChallenge(strings.Repeat("g", 40))
	require.Error(t, err)
}
