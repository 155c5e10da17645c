package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ridesync/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.RideCursor{StartDate: time.Date(2024, 3, 15, 8, 0, 0, 123, time.UTC), ID: "ride-1"}
	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeCursorEmptyAndInvalid(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
	require.Empty(t, EncodeCursor(nil))

	_, err = DecodeCursor("!!!")
	require.Error(t, err)

	_, err = DecodeCursor("bm8tc2VwYXJhdG9y")
	require.Error(t, err)
}
