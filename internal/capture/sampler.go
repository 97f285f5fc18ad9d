package capture

import "time"

// Sampler decides which frames are sent for detection: the first frame, then
// the first frame after each interval has elapsed since the last sample.
type Sampler struct {
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

// NewSampler creates a sampler firing at most once per interval.
func NewSampler(interval time.Duration, now func() time.Time) *Sampler {
	if now == nil {
		now = time.Now
	}
	return &Sampler{interval: interval, now: now}
}

// Due reports whether the current frame should be sampled, and if so starts
// the next interval.
func (s *Sampler) Due() bool {
	t := s.now()
	if t.Before(s.next) {
		return false
	}
	s.next = t.Add(s.interval)
	return true
}

// Reset makes the next frame due.
func (s *Sampler) Reset() {
	s.next = time.Time{}
}
