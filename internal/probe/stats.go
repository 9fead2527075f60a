package probe

import (
	"math"
	"time"
)

// Stats summarizes round-trip samples.
type Stats struct {
	Sent     int           `json:"sent"`
	Received int           `json:"received"`
	Mean     time.Duration `json:"mean"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	StdDev   time.Duration `json:"stddev"`
	// Jitter is the mean absolute difference between consecutive samples.
	Jitter time.Duration `json:"jitter"`
}

func (s Stats) Loss() float64 {
	if s.Sent == 0 {
		return 0
	}
	return float64(s.Sent-s.Received) / float64(s.Sent)
}

func (s Stats) MeanMs() float64 {
	return float64(s.Mean.Microseconds()) / 1000.0
}

// Accumulator keeps running RTT statistics. Not safe for concurrent use.
type Accumulator struct {
	sent  int
	count int
	mean  float64
	m2    float64
	min   time.Duration
	max   time.Duration

	last      time.Duration
	jitterSum float64
}

func (a *Accumulator) AddLoss() {
	a.sent++
}

func (a *Accumulator) Add(rtt time.Duration) {
	a.sent++
	if a.count == 0 || rtt < a.min {
		a.min = rtt
	}
	if a.count == 0 || rtt > a.max {
		a.max = rtt
	}
	if a.count > 0 {
		a.jitterSum += math.Abs(float64(rtt - a.last))
	}
	a.last = rtt

	value := float64(rtt.Microseconds())
	a.count++
	delta := value - a.mean
	a.mean += delta / float64(a.count)
	delta2 := value - a.mean
	a.m2 += delta * delta2
}

func (a *Accumulator) Stats() Stats {
	st := Stats{Sent: a.sent, Received: a.count}
	if a.count == 0 {
		return st
	}
	st.Mean = time.Duration(a.mean) * time.Microsecond
	st.Min = a.min
	st.Max = a.max
	if a.count > 1 {
		st.StdDev = time.Duration(math.Sqrt(a.m2/float64(a.count-1))) * time.Microsecond
		st.Jitter = time.Duration(a.jitterSum / float64(a.count-1))
	}
	return st
}
