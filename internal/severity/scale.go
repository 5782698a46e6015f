// Package severity maps CDC wastewater viral activity labels onto an ordinal
// scale and reduces sets of labels to a single representative label.
package severity

import (
	"math"
	"strings"
)

// Category is a CDC wastewater viral activity level label.
type Category string

const (
	VeryLow  Category = "Very Low"
	Low      Category = "Low"
	Medium   Category = "Medium"
	High     Category = "High"
	VeryHigh Category = "Very High"
)

// aliases maps legacy labels the CDC has published onto the current scale.
var aliases = map[string]Category{
	"moderate": Medium,
}

// Scale is an immutable ordered lookup between categories and their 1-based
// ordinal rank. Build one with NewScale and share it by pointer.
type Scale struct {
	labels []Category
	ranks  map[string]int
}

// NewScale builds a scale whose ranks follow the argument order starting at 1.
func NewScale(labels ...Category) *Scale {
	s := &Scale{
		labels: make([]Category, len(labels)),
		ranks:  make(map[string]int, len(labels)),
	}
	copy(s.labels, labels)
	for i, l := range labels {
		s.ranks[strings.ToLower(string(l))] = i + 1
	}
	return s
}

var defaultScale = NewScale(VeryLow, Low, Medium, High, VeryHigh)

// DefaultScale returns the five-point CDC scale, Very Low (1) to Very High (5).
func DefaultScale() *Scale {
	return defaultScale
}

// Labels returns the categories in rank order.
func (s *Scale) Labels() []Category {
	out := make([]Category, len(s.labels))
	copy(out, s.labels)
	return out
}

// Parse resolves a raw label to a category on this scale. Matching ignores
// case and surrounding whitespace and accepts legacy aliases.
func (s *Scale) Parse(raw string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := aliases[key]; ok {
		key = strings.ToLower(string(alias))
	}
	rank, ok := s.ranks[key]
	if !ok {
		return "", false
	}
	return s.labels[rank-1], true
}

// Rank returns the ordinal rank of a raw label.
func (s *Scale) Rank(raw string) (int, bool) {
	c, ok := s.Parse(raw)
	if !ok {
		return 0, false
	}
	return s.ranks[strings.ToLower(string(c))], true
}

// At returns the category with the given rank.
func (s *Scale) At(rank int) (Category, bool) {
	if rank < 1 || rank > len(s.labels) {
		return "", false
	}
	return s.labels[rank-1], true
}

// Average returns the category whose rank is nearest the mean rank of the
// recognized labels. Ties resolve to the lower rank. Unrecognized labels are
// ignored; if none are recognized the second result is false.
func (s *Scale) Average(labels []string) (Category, bool) {
	var sum, n int
	for _, l := range labels {
		if rank, ok := s.Rank(l); ok {
			sum += rank
			n++
		}
	}
	if n == 0 {
		return "", false
	}
	mean := float64(sum) / float64(n)

	best := 0
	bestDist := math.Inf(1)
	for i := range s.labels {
		if d := math.Abs(float64(i+1) - mean); d < bestDist {
			best, bestDist = i, d
		}
	}
	return s.labels[best], true
}

// ParseCategory resolves a raw label against the default scale.
func ParseCategory(raw string) (Category, bool) {
	return defaultScale.Parse(raw)
}
