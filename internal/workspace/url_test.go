package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgibert/chaingpt/internal/domain"
)

func TestParseRepoURL(t *testing.T) {
	u, err := ParseRepoURL("https://github.com/acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "acme", u.Owner)
	assert.Equal(t, "widgets", u.Name)
	assert.Equal(t, "https://github.com/acme/widgets.git", u.CloneURL())

	u, err = ParseRepoURL("https://GitHub.com/acme/widgets.git/")
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "widgets", u.Name)
	assert.Equal(t, "https://github.com/acme/widgets", u.String())
}

func TestParseRepoURLInvalid(t *testing.T) {
	cases := []string{
		"",
		"github.com/acme/widgets",
		"ftp://github.com/acme/widgets",
		"file:///tmp/repo",
		"https:///acme/widgets",
		"https://github.com/acme",
		"https://github.com/acme/widgets/tree/main",
		"https://user:pw@github.com/acme/widgets",
		"https://github.com/acme/widgets?x=1",
		"https://github.com/acme/widgets#readme",
		"https://github.com/ac me/widgets",
		"https://github.com/acme/..",
		"https://github.com/acme/.git",
	}

	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseRepoURL(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidURL)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}
