package qa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgibert/chaingpt/internal/domain"
)

func TestSplitThreeChunks(t *testing.T) {
	text := strings.Repeat("x", 25000)

	chunks, err := Split(text, 10000, 500)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10000)
	assert.Len(t, chunks[1], 10000)
	assert.Len(t, chunks[2], 6000)
}

func TestSplitReconstructs(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 3000; i++ {
		sb.WriteString(string(rune('a' + i%26)))
		if i%7 == 0 {
			sb.WriteString("ß")
		}
	}
	text := sb.String()

	for _, tc := range []struct{ size, overlap int }{
		{100, 0}, {100, 10}, {257, 99}, {1000, 500}, {5000, 1},
	} {
		chunks, err := Split(text, tc.size, tc.overlap)
		require.NoError(t, err)

		var rebuilt strings.Builder
		for i, c := range chunks {
			r := []rune(c)
			assert.LessOrEqual(t, len(r), tc.size)
			if i == 0 {
				rebuilt.WriteString(c)
				continue
			}
			prev := []rune(chunks[i-1])
			assert.Equal(t, string(prev[len(prev)-tc.overlap:]), string(r[:tc.overlap]), "overlap mismatch")
			rebuilt.WriteString(string(r[tc.overlap:]))
		}
		assert.Equal(t, text, rebuilt.String())
	}
}

func TestSplitInvalid(t *testing.T) {
	_, err := Split("abc", 0, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = Split("abc", 10, 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = Split("abc", 10, -1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	chunks, err := Split("", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
