package blacklist

import (
	"testing"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

func TestNoopBlacklist(t *testing.T) {
	n := &NoopBlacklist{}
	if err := n.AddOrUpdate("+15551234567", domain.BlockAll, domain.BlockNone); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	if got := n.IsListed("+15551234567", domain.BlockAll); got != domain.MatchNone {
		t.Errorf("expected MatchNone, got %v", got)
	}
	if entries, err := n.Entries(); err != nil || len(entries) != 0 {
		t.Errorf("expected no entries, got %v err=%v", entries, err)
	}
	if err := n.Load(); err != nil {
		t.Errorf("Load: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
