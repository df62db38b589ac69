package drafting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDraft(t *testing.T) {
	draft, err := parseDraft(`{"title": "Missing alt text", "description": "Add alt attributes.", "severity": "2", "criteria_codes": ["1.1.1"]}`)
	require.NoError(t, err)
	assert.Equal(t, "Missing alt text", draft.Title)
	assert.Equal(t, "2", draft.Severity)
	assert.Equal(t, []string{"1.1.1"}, draft.CriteriaCodes)
}

func TestParseDraftStripsCodeFence(t *testing.T) {
	draft, err := parseDraft("```json\n{\"title\": \"t\", \"description\": \"d\", \"severity\": \"4\", \"criteria_codes\": []}\n```")
	require.NoError(t, err)
	assert.Equal(t, "t", draft.Title)
}

func TestParseDraftNormalizesBadFields(t *testing.T) {
	draft, err := parseDraft(`{"title": "t", "severity": "urgent", "criteria_codes": ["1.4.3", "9.9.9"]}`)
	require.NoError(t, err)
	assert.Equal(t, "3", draft.Severity)
	assert.Equal(t, []string{"1.4.3"}, draft.CriteriaCodes)
}

func TestParseDraftRejectsNonJson(t *testing.T) {
	_, err := parseDraft("I cannot help with that.")
	assert.Error(t, err)
}

func TestNewDrafter(t *testing.T) {
	drafter, err := NewDrafter("", "", "")
	require.NoError(t, err)
	assert.Nil(t, drafter)

	_, err = NewDrafter("openai", "", "")
	assert.Error(t, err)

	drafter, err = NewDrafter("openai", "test-key", "")
	require.NoError(t, err)
	assert.NotNil(t, drafter)

	_, err = NewDrafter("anthropic", "key", "")
	assert.Error(t, err)
}
