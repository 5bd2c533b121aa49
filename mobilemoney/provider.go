package mobilemoney

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PROVIDER - Outbound side of the mobile-money integration
// =============================================================================

// PromptRequest asks the provider to push a payment prompt to the payer.
type PromptRequest struct {
	IntentID         string
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
}

// Provider issues payment prompts. The provider answers later through the
// callback endpoint, keyed by the reference returned here.
type Provider interface {
	RequestPayment(ctx context.Context, req PromptRequest) (providerReference string, err error)
}

// Sandbox is an in-process Provider for development and tests. It
// accepts every prompt and hands out unique references.
type Sandbox struct {
	mu      sync.Mutex
	prompts []PromptRequest
	// FailWith, when set, makes RequestPayment fail.
	FailWith error
}

func NewSandbox() *Sandbox {
	return &Sandbox{}
}

func (s *Sandbox) RequestPayment(_ context.Context, req PromptRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return "", fmt.Errorf("sandbox provider: %w", s.FailWith)
	}
	s.prompts = append(s.prompts, req)
	ref := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return "SBX" + ref, nil
}

// Prompts returns the prompts issued so far.
func (s *Sandbox) Prompts() []PromptRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PromptRequest(nil), s.prompts...)
}
