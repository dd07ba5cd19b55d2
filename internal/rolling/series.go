package rolling

// Sample is one timestamped value. At is in seconds.
type Sample[T any] struct {
	At    float64
	Value T
}

// Series is an append-only, time-ordered buffer. Every Push drops samples
// older than maxAge relative to the new sample and then trims to maxLen.
// A non-positive maxAge or maxLen disables that bound.
type Series[T any] struct {
	maxAge float64
	maxLen int
	items  []Sample[T]
}

func NewSeries[T any](maxAge float64, maxLen int) *Series[T] {
	capHint := maxLen
	if capHint <= 0 || capHint > 512 {
		capHint = 64
	}
	return &Series[T]{maxAge: maxAge, maxLen: maxLen, items: make([]Sample[T], 0, capHint)}
}

func (s *Series[T]) Push(at float64, v T) {
	s.items = append(s.items, Sample[T]{At: at, Value: v})
	drop := 0
	if s.maxAge > 0 {
		cutoff := at - s.maxAge
		for drop < len(s.items) && s.items[drop].At < cutoff {
			drop++
		}
	}
	if s.maxLen > 0 && len(s.items)-drop > s.maxLen {
		drop = len(s.items) - s.maxLen
	}
	if drop > 0 {
		n := copy(s.items, s.items[drop:])
		clear(s.items[n:])
		s.items = s.items[:n]
	}
}

func (s *Series[T]) Len() int { return len(s.items) }

func (s *Series[T]) Reset() {
	clear(s.items)
	s.items = s.items[:0]
}

func (s *Series[T]) Last() (Sample[T], bool) {
	if len(s.items) == 0 {
		var zero Sample[T]
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

// FromEnd returns the i-th sample counted from the newest; FromEnd(0) is the newest.
func (s *Series[T]) FromEnd(i int) (Sample[T], bool) {
	if i < 0 || i >= len(s.items) {
		var zero Sample[T]
		return zero, false
	}
	return s.items[len(s.items)-1-i], true
}

// Window returns the samples no older than window seconds before the newest
// sample. The result aliases internal storage and must not be retained.
func (s *Series[T]) Window(window float64) []Sample[T] {
	last, ok := s.Last()
	if !ok {
		return nil
	}
	cutoff := last.At - window
	i := 0
	for i < len(s.items) && s.items[i].At < cutoff {
		i++
	}
	return s.items[i:]
}

// Items returns every retained sample. The result aliases internal storage.
func (s *Series[T]) Items() []Sample[T] { return s.items }

// Values extracts the values of float samples.
func Values(samples []Sample[float64]) []float64 {
	out := make([]float64, len(samples))
	for i, smp := range samples {
		out[i] = smp.Value
	}
	return out
}
