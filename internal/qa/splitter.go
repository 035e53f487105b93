package qa

import (
	"fmt"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// Split cuts text into windows of at most size characters. Each window
// after the first starts overlap characters before the end of the previous
// one, so dropping the first overlap characters of every window but the first
// and concatenating rebuilds text.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", domain.ErrValidation)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d)", domain.ErrValidation, size)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := size - overlap
	var chunks []string
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
