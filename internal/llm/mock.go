package llm

import (
	"context"
	"strings"

	"github.com/tomsuharto-git/irm-personas-api/internal/common"
)

// MockClient is the dev-mode provider: fully deterministic, no network.
// Selection prompts get an empty list back, which pushes the engine onto its
// deterministic fallback ordering, and generation prompts get a canned
// in-character acknowledgement.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Name() string {
	return "mock"
}

func (m *MockClient) Complete(_ context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.System) == "" {
		return "[]", nil
	}

	question := lastLine(req.User)
	return "Honestly, that's a fair question. Speaking for myself I'd say it depends on where you're coming from, but here's my take: " +
		common.Preview(question, 120), nil
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
