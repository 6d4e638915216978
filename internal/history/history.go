package history

import "time"

// Point is one chart sample. X is a Unix millisecond timestamp.
type Point struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// At builds a Point for t.
func At(t time.Time, v float64) Point {
	return Point{X: t.UnixMilli(), Y: v}
}

// Set groups the chart series of the reactor.
type Set struct {
	T1 *Ring[Point]
	T2 *Ring[Point]
	OD *Ring[Point]
}

// NewSet creates the three series with the given capacity.
func NewSet(capacity int) *Set {
	return &Set{
		T1: NewRing[Point](capacity),
		T2: NewRing[Point](capacity),
		OD: NewRing[Point](capacity),
	}
}

// Snapshot is the JSON shape served to charts.
type Snapshot struct {
	T1 []Point `json:"t1"`
	T2 []Point `json:"t2"`
	OD []Point `json:"od"`
}

// Snapshot copies all series.
func (s *Set) Snapshot() Snapshot {
	return Snapshot{
		T1: s.T1.Items(),
		T2: s.T2.Items(),
		OD: s.OD.Items(),
	}
}
