// Package unionfind implements the dynamic disjoint-set over non-negative
// int32 labels used by the frame stitcher to merge object fragments that
// straddle adjacent frames.
package unionfind

import "sync"

// Set is a growing union-find over non-negative int32 labels. The zero
// value is ready to use. Writers (Union) are expected to be single
// threaded; ParentOrSelf is lock-free and only valid for reads that
// happen after ResolveAllBases has run: single writer, lock-free
// readers after the flatten.
type Set struct {
	mu     sync.Mutex
	parent []int32
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

func (s *Set) growLocked(n int32) {
	for int32(len(s.parent)) <= n {
		s.parent = append(s.parent, int32(len(s.parent)))
	}
}

// FindBase returns the current root of x's tree, path-compressing along
// the way. Labels never explicitly unioned are their own base.
func (s *Set) FindBase(x int32) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findBaseLocked(x)
}

func (s *Set) findBaseLocked(x int32) int32 {
	s.growLocked(x)
	root := x
	for s.parent[root] != root {
		root = s.parent[root]
	}
	for s.parent[x] != root {
		s.parent[x], x = root, s.parent[x]
	}
	return root
}

// Union joins the trees containing a and b. The parent of the larger
// base always points at the smaller one, so the canonical label of any
// class is deterministically its minimum member.
func (s *Set) Union(a, b int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ra, rb := s.findBaseLocked(a), s.findBaseLocked(b)
	if ra == rb {
		return
	}
	if ra < rb {
		s.parent[rb] = ra
	} else {
		s.parent[ra] = rb
	}
}

// ResolveAllBases flattens the forest so that parent[i] points directly
// at the root for every i < Len. Must be called before ParentOrSelf is
// used concurrently by readers.
func (s *Set) ResolveAllBases() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.parent {
		s.parent[i] = s.findBaseLocked(int32(i))
	}
}

// Len reports the current size of the backing parent vector.
func (s *Set) Len() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int32(len(s.parent))
}

// ParentOrSelf is a lock-free O(1) read valid only after ResolveAllBases
// has fully flattened the forest: it returns x unchanged if x has never
// been touched by Union, otherwise its canonical representative.
func (s *Set) ParentOrSelf(x int32) int32 {
	p := s.parent
	if x < 0 || int(x) >= len(p) {
		return x
	}
	return p[x]
}

// QuickReindex is the read path the map-buffer's
// read_labels_reindexed_by_object_pairs uses: it is ParentOrSelf, named
// for that call site.
func (s *Set) QuickReindex(label int32) int32 {
	return s.ParentOrSelf(label)
}
