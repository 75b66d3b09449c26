package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBusinessInfo(t *testing.T) {
	text := `Thanks! Here is what I have so far.

<business_info>
{"businessName": "Acme Bakery", "businessIndustry": "Food & Beverage"}
</business_info>`

	info, ok := ExtractBusinessInfo(text)
	require.True(t, ok)
	assert.Equal(t, "Acme Bakery", info.Name)
	assert.Equal(t, "Food & Beverage", info.Industry)
	assert.Empty(t, info.Address)
}

func TestExtractBusinessInfoRepairsMangledJSON(t *testing.T) {
	// Trailing comma and single quotes, the kind of JSON models actually emit.
	text := `<business_info>
{'businessName': 'Acme Bakery', 'businessDescription': 'A bakery',}
</business_info>`

	info, ok := ExtractBusinessInfo(text)
	require.True(t, ok)
	assert.Equal(t, "Acme Bakery", info.Name)
	assert.Equal(t, "A bakery", info.Description)
}

func TestExtractBusinessInfoNoBlock(t *testing.T) {
	_, ok := ExtractBusinessInfo("I will ask the user about their business name.")
	assert.False(t, ok)
}

func TestExtractBusinessInfoUnrepairable(t *testing.T) {
	_, ok := ExtractBusinessInfo("<business_info>not even close to json {{{</business_info>")
	assert.False(t, ok)
}

func TestHasTaskSummary(t *testing.T) {
	assert.True(t, HasTaskSummary("done!\n<task_summary>\nBuilt a landing page.\n</task_summary>"))
	assert.False(t, HasTaskSummary("still working on the navbar"))
}
