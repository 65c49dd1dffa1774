package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTitle(t *testing.T) {
	require.Equal(
		t,
		NormalizeTitle("Battlefield 6"),
		NormalizeTitle("Battlefield® 6™"),
	)
	require.Equal(t, "battlefield 6", NormalizeTitle("  Battlefield©   6  "))
	require.Equal(t, "nierautomata", NormalizeTitle("NieR:Automata™"))
	require.Equal(t, "", NormalizeTitle("®™©"))
}

func TestCleanTitleKeepsCase(t *testing.T) {
	require.Equal(t, "Battlefield 6 Phantom Edition", CleanTitle("Battlefield™ 6: Phantom Edition"))
}
