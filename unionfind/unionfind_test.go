package unionfind

import "testing"

func TestUnionFindBasic(t *testing.T) {
	s := New()
	s.Union(3, 5)
	s.Union(5, 7)
	s.Union(2, 7)
	if got := s.FindBase(3); got != 2 {
		t.Fatalf("FindBase(3) = %d, want 2", got)
	}
	s.ResolveAllBases()
	if got := s.ParentOrSelf(3); got != 2 {
		t.Fatalf("ParentOrSelf(3) = %d, want 2", got)
	}
}

func TestUnionFindUntouchedIsSelf(t *testing.T) {
	s := New()
	s.Union(0, 1)
	s.ResolveAllBases()
	if got := s.ParentOrSelf(42); got != 42 {
		t.Fatalf("ParentOrSelf(42) = %d, want 42 (never unioned)", got)
	}
}

func TestUnionFindConnectivity(t *testing.T) {
	s := New()
	s.Union(10, 20)
	s.Union(20, 30)
	if s.FindBase(10) != s.FindBase(30) {
		t.Fatalf("10 and 30 should be connected")
	}
	if s.FindBase(10) == s.FindBase(99) {
		t.Fatalf("10 and 99 should not be connected")
	}
}

func TestUnionFindDeterministicTiebreak(t *testing.T) {
	s := New()
	s.Union(9, 4)
	if got := s.FindBase(9); got != 4 {
		t.Fatalf("FindBase(9) = %d, want 4 (smaller label wins)", got)
	}
}
