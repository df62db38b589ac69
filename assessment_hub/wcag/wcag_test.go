package wcag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	c, err := Lookup("1.4.3")
	require.NoError(t, err)
	assert.Equal(t, "Contrast (Minimum)", c.Name)
	assert.Equal(t, LevelAA, c.Level)
	assert.True(t, c.InVersion("2.0"))
	assert.True(t, c.InVersion("2.2"))

	_, err = Lookup("9.9.9")
	assert.ErrorIs(t, err, ErrUnknownCriterion)
}

func TestParsingRemovedInWcag22(t *testing.T) {
	c, err := Lookup("4.1.1")
	require.NoError(t, err)
	assert.True(t, c.InVersion("2.1"))
	assert.False(t, c.InVersion("2.2"))
}

func TestCompareCodes(t *testing.T) {
	assert.Negative(t, CompareCodes("1.4.3", "1.4.10"))
	assert.Negative(t, CompareCodes("1.4.10", "2.1.1"))
	assert.Positive(t, CompareCodes("2.4.11", "2.4.2"))
	assert.Zero(t, CompareCodes("3.3.7", "3.3.7"))
	assert.Negative(t, CompareCodes("1.4", "1.4.1"))
}

func TestAllSorted(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Negative(t, CompareCodes(all[i-1].Code, all[i].Code))
	}
}

func TestForScope(t *testing.T) {
	aOnly := ForScope([]string{"2.2"}, []Level{LevelA})
	for _, c := range aOnly {
		assert.Equal(t, LevelA, c.Level)
		assert.NotEqual(t, "4.1.1", c.Code)
	}

	all22 := ForScope([]string{"2.2"}, []Level{LevelA, LevelAA, LevelAAA})
	all21 := ForScope([]string{"2.1"}, []Level{LevelA, LevelAA, LevelAAA})
	assert.Len(t, all21, 78)
	assert.Len(t, all22, 86)
}
