package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"towing/internal/domain"
	"towing/internal/geo"
)

func TestThrottle_Sequence(t *testing.T) {
	t.Parallel()

	cfg := DefaultThrottleConfig()
	th := NewThrottle(cfg)

	base := domain.Fix{Lat: -23.55, Lng: -46.63, At: t0}
	move := func(meters float64, after time.Duration) domain.Fix {
		lat, lng := northOf(base.Lat, base.Lng, meters)
		return domain.Fix{Lat: lat, Lng: lng, At: t0.Add(after)}
	}

	steps := []struct {
		name string
		fix  domain.Fix
		want bool
	}{
		{"first fix always sends", base, true},
		{"too soon and too close", move(5, 5*time.Second), false},
		{"far but too soon", move(100, 10*time.Second), false},
		{"min interval but too close", move(10, 20*time.Second), false},
		{"min interval and far enough", move(40, 20*time.Second), true},
	}

	var last domain.Fix
	for _, s := range steps {
		var want bool
		if last.At.IsZero() {
			want = true
		} else {
			dt := s.fix.At.Sub(last.At)
			d := geo.DistanceMeters(last.Lat, last.Lng, s.fix.Lat, s.fix.Lng)
			want = dt >= cfg.MaxInterval || (dt >= cfg.MinInterval && d >= cfg.MinDistanceM)
		}
		assert.Equal(t, s.want, want, "%s: reference predicate", s.name)

		got := th.Offer(s.fix)
		assert.Equal(t, s.want, got, s.name)
		if got {
			last = s.fix
		}
	}

	// Stationary heartbeat after the max interval.
	still := domain.Fix{Lat: last.Lat, Lng: last.Lng, At: last.At.Add(cfg.MaxInterval)}
	assert.True(t, th.Offer(still))
	assert.False(t, th.Offer(domain.Fix{Lat: still.Lat, Lng: still.Lng, At: still.At.Add(59 * time.Second)}))
}

func TestThrottle_ShouldSendDoesNotRecord(t *testing.T) {
	t.Parallel()

	th := NewThrottle(DefaultThrottleConfig())
	f := domain.Fix{Lat: 1, Lng: 1, At: t0}
	assert.True(t, th.ShouldSend(f))
	assert.True(t, th.ShouldSend(f))
	th.MarkSent(f)
	assert.False(t, th.ShouldSend(f))
}
