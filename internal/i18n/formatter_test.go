package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	assert.Equal(t, "An unexpected error occurred.", c.T("api/unexpected", nil))
	assert.Contains(t, c.T("api/signin/mail/body", map[string]string{"link": "https://x/y"}), "https://x/y")
}

func TestCatalogReplacements(t *testing.T) {
	c, err := Parse([]byte(`{"data":[{"key":"greet","value":"Hi {first} {last}, {first}!"}]}`))
	require.NoError(t, err)

	got := c.T("greet", map[string]string{"first": "Ada", "last": "Lovelace"})
	assert.Equal(t, "Hi Ada Lovelace, Ada!", got)
}

func TestCatalogUnknownKey(t *testing.T) {
	c, err := Parse([]byte(`{"data":[]}`))
	require.NoError(t, err)

	assert.Equal(t, "nope/missing", c.T("nope/missing", nil))
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte(`{"data":`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"messages":{}}`))
	assert.Error(t, err)
}
