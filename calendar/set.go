package calendar

import "sort"

// DateSet holds distinct dates. Adding the same date twice counts it once.
type DateSet struct {
	m map[Date]struct{}
}

func NewDateSet(dates ...Date) *DateSet {
	s := &DateSet{m: make(map[Date]struct{}, len(dates))}
	for _, d := range dates {
		s.Add(d)
	}
	return s
}

func (s *DateSet) Add(d Date)      { s.m[d] = struct{}{} }
func (s *DateSet) Remove(d Date)   { delete(s.m, d) }
func (s *DateSet) Has(d Date) bool { _, ok := s.m[d]; return ok }
func (s *DateSet) Len() int        { return len(s.m) }

// AddRange adds every date of r.
func (s *DateSet) AddRange(r DateRange) {
	for _, d := range r.Days() {
		s.Add(d)
	}
}

// Sorted returns the dates in ascending order.
func (s *DateSet) Sorted() []Date {
	out := make([]Date, 0, len(s.m))
	for d := range s.m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// CountIn counts the dates that fall in ym.
func (s *DateSet) CountIn(ym YearMonth) int {
	n := 0
	for d := range s.m {
		if ym.Contains(d) {
			n++
		}
	}
	return n
}
