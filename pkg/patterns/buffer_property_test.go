//go:build property
// +build property

package patterns

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBufferCapProperty verifies the bounded deque holds exactly the last
// cap elements for any push count beyond the cap.
func TestBufferCapProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("buffer keeps the newest cap points in order", prop.ForAll(
		func(capacity, pushes int) bool {
			buf := newBoundedBuffer(capacity)
			for i := 0; i < pushes; i++ {
				buf.push(DataPoint{
					EntityID:  "e",
					Timestamp: time.Unix(int64(i), 0),
					Numerical: map[string]float64{"seq": float64(i)},
				})
			}

			want := pushes
			if want > capacity {
				want = capacity
			}
			snap := buf.snapshot()
			if len(snap) != want {
				return false
			}
			for i, dp := range snap {
				if dp.Numerical["seq"] != float64(pushes-want+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}
