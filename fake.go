package bikeserial

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// fakeFrame mirrors the controller's telemetry line closely enough for consumers
// exercising the simulated path.
type fakeFrame struct {
	Distance1 float64 `json:"distance_1"`
	Distance2 float64 `json:"distance_2"`
}

// fakeSource produces plausible, monotonically increasing distances for two bikes.
type fakeSource struct {
	now func() time.Time

	mu       sync.Mutex
	last     time.Time
	distance [2]float64
	rng      *rand.Rand
}

func newFakeSource(seed uint64) *fakeSource {
	return &fakeSource{
		now: time.Now,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// next returns one frame covering the time elapsed since the previous call.
func (f *fakeSource) next() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	elapsed := 0.1
	if !f.last.IsZero() {
		elapsed = math.Min(now.Sub(f.last).Seconds(), 5)
	}
	f.last = now

	for i := range f.distance {
		// 4-12 m/s, roughly 15-45 km/h
		speed := 4 + f.rng.Float64()*8
		f.distance[i] += speed * elapsed
	}

	data, err := json.Marshal(fakeFrame{
		Distance1: math.Round(f.distance[0]*100) / 100,
		Distance2: math.Round(f.distance[1]*100) / 100,
	})
	if err != nil {
		return ""
	}
	return string(data)
}
