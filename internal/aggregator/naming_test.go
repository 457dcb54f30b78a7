package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExposedName(t *testing.T) {
	assert.Equal(t, "github__list_issues", ExposedName("github", "list_issues"))
}

func TestSplitExposedName(t *testing.T) {
	serverName, itemName, err := SplitExposedName("github__list_issues")
	require.NoError(t, err)
	assert.Equal(t, "github", serverName)
	assert.Equal(t, "list_issues", itemName)
}

func TestSplitExposedNameKeepsSeparatorInItemName(t *testing.T) {
	// Item names may contain the separator; only the first occurrence
	// delimits the server.
	serverName, itemName, err := SplitExposedName("fs__read__file")
	require.NoError(t, err)
	assert.Equal(t, "fs", serverName)
	assert.Equal(t, "read__file", itemName)
}

func TestSplitExposedNameRoundTrip(t *testing.T) {
	exposed := ExposedName("weather", "get__forecast")
	serverName, itemName, err := SplitExposedName(exposed)
	require.NoError(t, err)
	assert.Equal(t, "weather", serverName)
	assert.Equal(t, "get__forecast", itemName)
}

func TestSplitExposedNameInvalid(t *testing.T) {
	for _, exposed := range []string{"", "plain", "__leading", "trailing__", "__"} {
		_, _, err := SplitExposedName(exposed)
		assert.Error(t, err, "expected error for %q", exposed)
	}
}
