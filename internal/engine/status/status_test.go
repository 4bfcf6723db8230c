package status

import (
	"errors"
	"testing"

	"grievline/internal/domain"
)

func TestValidateForwardChain(t *testing.T) {
	chain := []domain.Status{
		domain.StatusSubmitted,
		domain.StatusUnderReview,
		domain.StatusAssigned,
		domain.StatusInProgress,
		domain.StatusResolved,
	}
	for i := 0; i < len(chain)-1; i++ {
		if err := Validate(chain[i], chain[i+1], domain.RoleStaff); err != nil {
			t.Fatalf("staff %s -> %s: %v", chain[i], chain[i+1], err)
		}
		if err := Validate(chain[i], chain[i+1], domain.RoleAdmin); err != nil {
			t.Fatalf("admin %s -> %s: %v", chain[i], chain[i+1], err)
		}
	}
}

func TestValidateRejectsIllegalEdge(t *testing.T) {
	err := Validate(domain.StatusSubmitted, domain.StatusResolved, domain.RoleAdmin)
	var ite *domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != domain.StatusSubmitted || ite.To != domain.StatusResolved {
		t.Fatalf("unexpected edge in error: %s -> %s", ite.From, ite.To)
	}
}

func TestValidateTerminalPrecedence(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusResolved, domain.StatusRejected, domain.StatusWithdrawn} {
		err := Validate(s, domain.StatusUnderReview, domain.RoleAdmin)
		var tse *domain.TerminalStateError
		if !errors.As(err, &tse) {
			t.Fatalf("from %s: expected TerminalStateError, got %v", s, err)
		}
	}
}

func TestValidateRoleDenied(t *testing.T) {
	err := Validate(domain.StatusSubmitted, domain.StatusUnderReview, domain.RoleCitizen)
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestRejectEdgeAdminOnly(t *testing.T) {
	nonTerminal := []domain.Status{
		domain.StatusSubmitted,
		domain.StatusUnderReview,
		domain.StatusAssigned,
		domain.StatusInProgress,
	}
	for _, from := range nonTerminal {
		if err := Validate(from, domain.StatusRejected, domain.RoleAdmin); err != nil {
			t.Fatalf("admin %s -> rejected: %v", from, err)
		}
		err := Validate(from, domain.StatusRejected, domain.RoleStaff)
		var fe *domain.ForbiddenError
		if !errors.As(err, &fe) {
			t.Fatalf("staff %s -> rejected: expected ForbiddenError, got %v", from, err)
		}
	}
}

func TestWithdrawEdges(t *testing.T) {
	for _, from := range []domain.Status{domain.StatusSubmitted, domain.StatusUnderReview} {
		if err := Validate(from, domain.StatusWithdrawn, domain.RoleCitizen); err != nil {
			t.Fatalf("citizen %s -> withdrawn: %v", from, err)
		}
	}
	err := Validate(domain.StatusAssigned, domain.StatusWithdrawn, domain.RoleCitizen)
	var ite *domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("assigned -> withdrawn: expected InvalidTransitionError, got %v", err)
	}
}

func TestAssignable(t *testing.T) {
	want := map[domain.Status]bool{
		domain.StatusSubmitted:   false,
		domain.StatusUnderReview: true,
		domain.StatusAssigned:    true,
		domain.StatusInProgress:  true,
		domain.StatusResolved:    false,
		domain.StatusRejected:    false,
		domain.StatusWithdrawn:   false,
	}
	for s, ok := range want {
		if got := Assignable(s); got != ok {
			t.Fatalf("Assignable(%s) = %v, want %v", s, got, ok)
		}
	}
}

func TestNextFromSubmitted(t *testing.T) {
	next := Next(domain.StatusSubmitted)
	want := map[domain.Status]bool{
		domain.StatusUnderReview: true,
		domain.StatusRejected:    true,
		domain.StatusWithdrawn:   true,
	}
	if len(next) != len(want) {
		t.Fatalf("Next(submitted) = %v", next)
	}
	for _, s := range next {
		if !want[s] {
			t.Fatalf("unexpected target %s", s)
		}
	}
}
