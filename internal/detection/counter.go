package detection

// streak counts consecutive frames satisfying a condition
type streak struct {
	count int
}

func (s *streak) Hit() { s.count++ }

func (s *streak) Reset() { s.count = 0 }

// Satisfied reports whether the condition held for at least n frames
func (s *streak) Satisfied(n int) bool { return s.count >= n }

func (s *streak) Len() int { return s.count }
