package llm

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ModeMock selects the mock client.
const ModeMock = "MOCK"

// NewLLMClient creates an LLM client for the given mode. Mode MOCK returns a
// MockClient; anything else returns a real Client.
func NewLLMClient(mode, baseURL, apiKey string, timeout time.Duration) LLMClient {
	if strings.EqualFold(mode, ModeMock) {
		logrus.Info("LLM mode MOCK, using mock LLM client")
		return NewMockClient()
	}

	return NewClient(baseURL, apiKey, timeout)
}
