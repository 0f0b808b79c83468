package set

type Set[T comparable] struct {
	set map[T]struct{}
}

func (s *Set[T]) Insert(k T) {
	if s.set == nil {
		s.set = make(map[T]struct{})
	}
	s.set[k] = struct{}{}
}

func (s *Set[T]) Contains(k T) bool {
	_, ok := s.set[k]
	return ok
}

func (s *Set[T]) Len() int {
	return len(s.set)
}

// Values returns the members in no particular order.
func (s *Set[T]) Values() []T {
	out := make([]T, 0, len(s.set))
	for k := range s.set {
		out = append(out, k)
	}
	return out
}
