package providers

import (
	"fmt"
	"sort"

	"github.com/bobarin/montage/internal/models"
)

// Criteria describes what a task needs from a provider.
type Criteria struct {
	Style       string
	ContentType models.ContentType
	DurationSec float64
	Preferred   []string // Optional explicit order; unknown or incompatible ids are skipped
}

func CriteriaForScene(s models.Scene) Criteria {
	return Criteria{
		Style:       s.Style,
		ContentType: s.ContentType,
		DurationSec: s.DurationSec,
		Preferred:   s.PreferredProviders,
	}
}

type candidate struct {
	cap   Capability
	score float64
}

// Select returns the ids of every compatible provider, most preferred first:
// the caller's preference order, then quality tier descending, reliability
// descending, cost ascending, id ascending. It never returns an incompatible
// provider; when nothing fits it fails with ErrNoCompatibleProvider.
func (r *Registry) Select(c Criteria) ([]string, error) {
	var survivors []candidate
	for _, e := range r.entries {
		if !e.cap.supportsContent(c.ContentType) || !e.cap.supportsStyle(c.Style) || !e.cap.supportsDuration(c.DurationSec) {
			continue
		}
		// One score read per candidate keeps the sort consistent while
		// counters move underneath it.
		survivors = append(survivors, candidate{cap: e.cap, score: e.reliability()})
	}
	if len(survivors) == 0 {
		return nil, fmt.Errorf("%w: content=%s style=%q duration=%.2fs", models.ErrNoCompatibleProvider, c.ContentType, c.Style, c.DurationSec)
	}

	rank := make(map[string]int, len(c.Preferred))
	for i, id := range c.Preferred {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		ra, aPreferred := rank[a.cap.ID]
		rb, bPreferred := rank[b.cap.ID]
		if aPreferred != bPreferred {
			return aPreferred
		}
		if aPreferred && ra != rb {
			return ra < rb
		}
		if a.cap.QualityTier != b.cap.QualityTier {
			return a.cap.QualityTier > b.cap.QualityTier
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if a.cap.RelativeCost != b.cap.RelativeCost {
			return a.cap.RelativeCost < b.cap.RelativeCost
		}
		return a.cap.ID < b.cap.ID
	})

	ids := make([]string, len(survivors))
	for i, s := range survivors {
		ids[i] = s.cap.ID
	}
	return ids, nil
}
