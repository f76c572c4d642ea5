package providers

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/bobarin/montage/internal/models"
	"gopkg.in/yaml.v3"
)

// reliabilityWeight is how many observations the baseline score is worth.
const reliabilityWeight = 10

// AnyStyle in Capability.Styles matches every requested style.
const AnyStyle = "*"

// Capability is one row of the provider table.
type Capability struct {
	ID             string               `yaml:"id" json:"id"`
	Kind           Kind                 `yaml:"kind" json:"kind"`
	Styles         []string             `yaml:"styles" json:"styles"`
	ContentTypes   []models.ContentType `yaml:"content_types" json:"content_types"`
	MaxDurationSec float64              `yaml:"max_duration_sec" json:"max_duration_sec"` // 0 = unbounded
	QualityTier    int                  `yaml:"quality_tier" json:"quality_tier"`
	RelativeCost   float64              `yaml:"relative_cost" json:"relative_cost"`
	Reliability    float64              `yaml:"reliability" json:"reliability"` // baseline, 0-1
}

func (c Capability) supportsStyle(style string) bool {
	if style == "" {
		return true
	}
	for _, s := range c.Styles {
		if s == AnyStyle || strings.EqualFold(s, style) {
			return true
		}
	}
	return false
}

func (c Capability) supportsContent(ct models.ContentType) bool {
	for _, t := range c.ContentTypes {
		if t == ct {
			return true
		}
	}
	return false
}

func (c Capability) supportsDuration(sec float64) bool {
	return c.MaxDurationSec <= 0 || c.MaxDurationSec >= sec
}

func (c Capability) validate() error {
	if c.ID == "" {
		return models.ConfigError("provider capability without id")
	}
	if c.Reliability < 0 || c.Reliability > 1 {
		return models.ConfigError("provider %s: reliability must be within [0, 1], got %v", c.ID, c.Reliability)
	}
	if len(c.ContentTypes) == 0 {
		return models.ConfigError("provider %s: no content types", c.ID)
	}
	return nil
}

type entry struct {
	cap       Capability
	provider  Provider
	successes atomic.Int64
	failures  atomic.Int64
}

// Registry is the provider table. Entries are added during startup only;
// after that the table is read-only apart from the atomic reliability
// counters, so it is safe for concurrent use without locks.
type Registry struct {
	entries []*entry
	byID    map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*entry)}
}

// Register adds a provider. Not safe to call once the registry is shared.
func (r *Registry) Register(c Capability, p Provider) error {
	if err := c.validate(); err != nil {
		return err
	}
	if _, exists := r.byID[c.ID]; exists {
		return models.ConfigError("provider %s registered twice", c.ID)
	}
	if p != nil && p.ID() != c.ID {
		return models.ConfigError("provider id mismatch: table %s, adapter %s", c.ID, p.ID())
	}
	e := &entry{cap: c, provider: p}
	r.entries = append(r.entries, e)
	r.byID[c.ID] = e
	return nil
}

func (r *Registry) Len() int {
	return len(r.entries)
}

func (r *Registry) Provider(id string) (Provider, bool) {
	e, ok := r.byID[id]
	if !ok || e.provider == nil {
		return nil, false
	}
	return e.provider, true
}

func (r *Registry) RecordSuccess(id string) {
	if e, ok := r.byID[id]; ok {
		e.successes.Add(1)
	}
}

func (r *Registry) RecordFailure(id string) {
	if e, ok := r.byID[id]; ok {
		e.failures.Add(1)
	}
}

// Reliability blends the baseline score with observed outcomes.
func (r *Registry) Reliability(id string) float64 {
	e, ok := r.byID[id]
	if !ok {
		return 0
	}
	return e.reliability()
}

func (e *entry) reliability() float64 {
	s := float64(e.successes.Load())
	f := float64(e.failures.Load())
	return (e.cap.Reliability*reliabilityWeight + s) / (reliabilityWeight + s + f)
}

// ProviderStatus is a point-in-time view of one provider for reporting.
type ProviderStatus struct {
	Capability
	Score     float64 `json:"score"`
	Successes int64   `json:"successes"`
	Failures  int64   `json:"failures"`
}

func (r *Registry) Snapshot() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, ProviderStatus{
			Capability: e.cap,
			Score:      e.reliability(),
			Successes:  e.successes.Load(),
			Failures:   e.failures.Load(),
		})
	}
	return out
}

type capabilityTable struct {
	Providers []Capability `yaml:"providers"`
}

// LoadTable reads a YAML provider table.
func LoadTable(path string) ([]Capability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider table: %w", err)
	}
	var table capabilityTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, models.ConfigError("invalid provider table %s: %v", path, err)
	}
	for _, c := range table.Providers {
		if !c.Kind.Valid() {
			return nil, models.ConfigError("provider %s: unknown kind %q", c.ID, c.Kind)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
	}
	return table.Providers, nil
}

// DefaultTable is the built-in capability table, one row per provider kind.
func DefaultTable() []Capability {
	return []Capability{
		{
			ID:             string(KindVeo),
			Kind:           KindVeo,
			Styles:         []string{AnyStyle},
			ContentTypes:   []models.ContentType{models.ContentVideo},
			MaxDurationSec: 8,
			QualityTier:    3,
			RelativeCost:   4,
			Reliability:    0.85,
		},
		{
			ID:             string(KindXAI),
			Kind:           KindXAI,
			Styles:         []string{"cinematic", "realistic", "anime", "illustrated", "documentary"},
			ContentTypes:   []models.ContentType{models.ContentVideo},
			MaxDurationSec: 15,
			QualityTier:    2,
			RelativeCost:   2,
			Reliability:    0.8,
		},
		{
			ID:           string(KindOpenAIImage),
			Kind:         KindOpenAIImage,
			Styles:       []string{AnyStyle},
			ContentTypes: []models.ContentType{models.ContentImage},
			QualityTier:  2,
			RelativeCost: 1,
			Reliability:  0.95,
		},
		{
			ID:           string(KindElevenLabs),
			Kind:         KindElevenLabs,
			Styles:       []string{AnyStyle},
			ContentTypes: []models.ContentType{models.ContentSpeech},
			QualityTier:  3,
			RelativeCost: 1,
			Reliability:  0.95,
		},
	}
}
