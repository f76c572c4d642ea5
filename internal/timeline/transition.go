package timeline

import (
	"math"

	"github.com/bobarin/montage/internal/models"
)

// Blend returns the compositing parameters of a transition at progress p in
// [0, 1]. Below 0.5 the outgoing scene dominates and offsets point forward
// along the direction; from 0.5 on the incoming scene dominates with the
// mirrored parameters. Offsets and scale apply to the dominant scene.
// Blend is pure and safe to call concurrently or out of order.
func Blend(t models.TransitionType, dir models.Direction, p float64) models.BlendParams {
	p = clamp01(p)
	incoming := p >= 0.5
	dx, dy := vector(dir)
	peak := 1 - math.Abs(2*p-1) // 0 at the ends, 1 at the midpoint

	bp := models.BlendParams{Scale: 1, Dominant: models.SideOutgoing}
	if incoming {
		bp.Dominant = models.SideIncoming
	}

	switch t {
	case models.TransitionCut:
		bp.OutgoingOpacity, bp.IncomingOpacity = step(incoming)

	case models.TransitionFade:
		// Through black: out fades to zero by the midpoint, in rises after it.
		if incoming {
			bp.IncomingOpacity = 2*p - 1
		} else {
			bp.OutgoingOpacity = 1 - 2*p
		}

	case models.TransitionLightLeak:
		s := smoothstep(p)
		bp.OutgoingOpacity, bp.IncomingOpacity = 1-s, s
		bp.Glow = peak

	case models.TransitionFilmBurn:
		bp.OutgoingOpacity, bp.IncomingOpacity = 1-p, p
		bp.Glow = peak
		bp.Desaturation = 0.6 * peak
		bp.Blur = 0.3 * peak

	case models.TransitionWhipPan:
		bp.OutgoingOpacity, bp.IncomingOpacity = step(incoming)
		bp.Blur = peak
		var travel float64
		if incoming {
			u := 1 - (2*p - 1) // distance still to cover, 1 -> 0
			travel = -u * u
		} else {
			u := 2 * p
			travel = u * u
		}
		bp.OffsetX, bp.OffsetY = dx*travel, dy*travel

	case models.TransitionSlide:
		bp.OutgoingOpacity, bp.IncomingOpacity = 1, 1
		travel := p
		if incoming {
			travel = -(1 - p)
		}
		bp.OffsetX, bp.OffsetY = dx*travel, dy*travel

	case models.TransitionZoom:
		bp.OutgoingOpacity, bp.IncomingOpacity = 1-p, p
		bp.Scale = 1 + 0.5*peak
		bp.Blur = 0.5 * peak

	default: // dissolve
		bp.OutgoingOpacity, bp.IncomingOpacity = 1-p, p
	}

	bp.OffsetX = zeroSign(bp.OffsetX)
	bp.OffsetY = zeroSign(bp.OffsetY)
	return bp
}

// Progress of frame k within a window of n frames, sampled at frame centers.
func Progress(k, n int) float64 {
	if n <= 0 {
		return 1
	}
	return (float64(k) + 0.5) / float64(n)
}

// Keyframes samples Blend once per frame of the boundary's overlap window.
// A cut has no window and yields nil.
func Keyframes(b Boundary) []models.BlendKeyframe {
	n := b.OverlapFrames
	if n <= 0 {
		return nil
	}
	kfs := make([]models.BlendKeyframe, n)
	for k := 0; k < n; k++ {
		p := Progress(k, n)
		kfs[k] = models.BlendKeyframe{
			Frame:       b.StartFrame + k,
			Progress:    p,
			BlendParams: Blend(b.Spec.Type, b.Spec.Direction, p),
		}
	}
	return kfs
}

func vector(dir models.Direction) (float64, float64) {
	switch dir {
	case models.DirectionLeft:
		return -1, 0
	case models.DirectionUp:
		return 0, -1
	case models.DirectionDown:
		return 0, 1
	default:
		return 1, 0
	}
}

func step(incoming bool) (float64, float64) {
	if incoming {
		return 0, 1
	}
	return 1, 0
}

func smoothstep(x float64) float64 {
	return x * x * (3 - 2*x)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// zeroSign turns -0 into 0 so serialized plans do not differ on sign.
func zeroSign(x float64) float64 {
	if x == 0 {
		return 0
	}
	return x
}
