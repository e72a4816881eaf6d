package memory

import (
	"testing"

	"github.com/agentsh/agentguard/internal/store"
	"github.com/agentsh/agentguard/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
