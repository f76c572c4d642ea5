package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type ContentType string

const (
	ContentVideo  ContentType = "video"
	ContentImage  ContentType = "image"
	ContentSpeech ContentType = "speech"
	ContentMusic  ContentType = "music"
)

type TaskStatus string

const (
	TaskPending         TaskStatus = "pending"
	TaskDispatched      TaskStatus = "dispatched"
	TaskPolling         TaskStatus = "polling"
	TaskCompleted       TaskStatus = "completed"
	TaskFailedTransient TaskStatus = "failed_transient"
	TaskFailedPermanent TaskStatus = "failed_permanent"
	TaskExhausted       TaskStatus = "exhausted"
	TaskCancelled       TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskExhausted || s == TaskCancelled
}

// SceneOutcome is the user-visible result of generation for one scene.
type SceneOutcome string

const (
	OutcomeResolvedPrimary   SceneOutcome = "resolved_primary"
	OutcomeResolvedFallback  SceneOutcome = "resolved_fallback"
	OutcomePlaceholderFailed SceneOutcome = "placeholder_failed"
)

type TransitionType string

const (
	TransitionCut       TransitionType = "cut"
	TransitionDissolve  TransitionType = "dissolve"
	TransitionFade      TransitionType = "fade"
	TransitionLightLeak TransitionType = "light_leak"
	TransitionWhipPan   TransitionType = "whip_pan"
	TransitionFilmBurn  TransitionType = "film_burn"
	TransitionSlide     TransitionType = "slide"
	TransitionZoom      TransitionType = "zoom"
)

func (t TransitionType) Valid() bool {
	switch t {
	case TransitionCut, TransitionDissolve, TransitionFade, TransitionLightLeak,
		TransitionWhipPan, TransitionFilmBurn, TransitionSlide, TransitionZoom:
		return true
	}
	return false
}

type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

type LayerType string

const (
	LayerVideo       LayerType = "video"
	LayerTransition  LayerType = "transition"
	LayerTextOverlay LayerType = "text_overlay"
	LayerAudio       LayerType = "audio"
	LayerEndCard     LayerType = "end_card"
)

type ParamSource string

const (
	SourceStatic    ParamSource = "static"
	SourceKeyframes ParamSource = "keyframes"
)

type AudioTrackKind string

const (
	TrackVoice AudioTrackKind = "voice"
	TrackMusic AudioTrackKind = "music"
	TrackSound AudioTrackKind = "sound"
)

// Side names which scene of a transition dominates the composite.
type Side string

const (
	SideOutgoing Side = "outgoing"
	SideIncoming Side = "incoming"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Scene input

// MediaRef points at a generated or pre-existing asset.
type MediaRef struct {
	URI         string      `json:"uri" yaml:"uri"`
	Provider    string      `json:"provider,omitempty" yaml:"provider,omitempty"`
	ContentType ContentType `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Placeholder bool        `json:"placeholder,omitempty" yaml:"-"`
}

type TransitionSpec struct {
	Type        TransitionType `json:"type" yaml:"type"`
	DurationSec float64        `json:"duration_sec" yaml:"duration_sec"`
	Direction   Direction      `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// TextOverlay times are relative to the owning scene's start.
type TextOverlay struct {
	ID       string  `json:"id" yaml:"id"`
	Text     string  `json:"text" yaml:"text"`
	StartSec float64 `json:"start_sec" yaml:"start_sec"`
	EndSec   float64 `json:"end_sec" yaml:"end_sec"`
	Position string  `json:"position,omitempty" yaml:"position,omitempty"`
	Style    string  `json:"style,omitempty" yaml:"style,omitempty"`
}

// Narration is the voice-over for a scene; offsets are relative to the scene start.
type Narration struct {
	Script      string    `json:"script,omitempty" yaml:"script,omitempty"`
	OffsetSec   float64   `json:"offset_sec" yaml:"offset_sec"`
	DurationSec float64   `json:"duration_sec" yaml:"duration_sec"`
	Audio       *MediaRef `json:"audio,omitempty" yaml:"audio,omitempty"`
}

// SoundEvent is a one-shot effect layered independently of the music envelope.
type SoundEvent struct {
	ID          string  `json:"id" yaml:"id"`
	AssetURI    string  `json:"asset_uri" yaml:"asset_uri"`
	AtSec       float64 `json:"at_sec" yaml:"at_sec"`
	DurationSec float64 `json:"duration_sec" yaml:"duration_sec"`
	Volume      float64 `json:"volume" yaml:"volume"`
}

type Scene struct {
	ID                 string          `json:"id" yaml:"id"`
	Order              int             `json:"order" yaml:"order"`
	DurationSec        float64         `json:"duration_sec" yaml:"duration_sec"`
	ContentType        ContentType     `json:"content_type" yaml:"content_type"`
	Style              string          `json:"style,omitempty" yaml:"style,omitempty"`
	Tags               []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	Prompt             string          `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	ImageURL           string          `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	AspectRatio        string          `json:"aspect_ratio,omitempty" yaml:"aspect_ratio,omitempty"`
	PreferredProviders []string        `json:"preferred_providers,omitempty" yaml:"preferred_providers,omitempty"`
	Media              *MediaRef       `json:"media,omitempty" yaml:"media,omitempty"` // Pre-resolved: skips generation
	Overlays           []TextOverlay   `json:"overlays,omitempty" yaml:"overlays,omitempty"`
	Inbound            *TransitionSpec `json:"inbound,omitempty" yaml:"inbound,omitempty"`
	Outbound           *TransitionSpec `json:"outbound,omitempty" yaml:"outbound,omitempty"`
	Narration          *Narration      `json:"narration,omitempty" yaml:"narration,omitempty"`
	Sounds             []SoundEvent    `json:"sounds,omitempty" yaml:"sounds,omitempty"`
}

// Generation

type GenerationTask struct {
	SceneID    string     `json:"scene_id"`
	Params     JSONB      `json:"params,omitempty"`
	Status     TaskStatus `json:"status"`
	Provider   string     `json:"provider,omitempty"`
	Candidates []string   `json:"candidates,omitempty"`
	Attempts   int        `json:"attempts"`
	Result     *MediaRef  `json:"result,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// allowedTransitions is the per-task state machine. Terminal states have no entry.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:         {TaskDispatched, TaskExhausted, TaskCancelled},
	TaskDispatched:      {TaskPolling, TaskFailedTransient, TaskFailedPermanent, TaskCancelled},
	TaskPolling:         {TaskCompleted, TaskFailedTransient, TaskFailedPermanent, TaskCancelled},
	TaskFailedTransient: {TaskDispatched, TaskExhausted, TaskCancelled},
	TaskFailedPermanent: {TaskDispatched, TaskExhausted, TaskCancelled},
}

func NewGenerationTask(sceneID string, params JSONB) *GenerationTask {
	return &GenerationTask{
		SceneID: sceneID,
		Params:  params,
		Status:  TaskPending,
	}
}

// Advance moves the task to the next status, rejecting transitions the state
// machine does not allow. A terminal task never moves again.
func (t *GenerationTask) Advance(to TaskStatus) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s already terminal (%s), cannot move to %s", t.SceneID, t.Status, to)
	}
	for _, next := range allowedTransitions[t.Status] {
		if next == to {
			t.Status = to
			return nil
		}
	}
	return fmt.Errorf("task %s: illegal transition %s -> %s", t.SceneID, t.Status, to)
}

// SceneResolution is the orchestrator's terminal answer for one scene.
type SceneResolution struct {
	SceneID string         `json:"scene_id"`
	Task    GenerationTask `json:"task"`
	Outcome SceneOutcome   `json:"outcome"`
	Media   MediaRef       `json:"media"`
}

// TaskEvent is one entry of the per-scene progress stream.
type TaskEvent struct {
	RunID    uuid.UUID  `json:"run_id"`
	SceneID  string     `json:"scene_id"`
	Status   TaskStatus `json:"status"`
	Provider string     `json:"provider,omitempty"`
	Attempt  int        `json:"attempt"`
	Error    string     `json:"error,omitempty"`
	At       time.Time  `json:"at"`
}

// Timeline

// BlendParams are the compositing parameters of a transition at one instant.
// Offsets are fractions of the frame size.
type BlendParams struct {
	OutgoingOpacity float64 `json:"outgoing_opacity"`
	IncomingOpacity float64 `json:"incoming_opacity"`
	OffsetX         float64 `json:"offset_x"`
	OffsetY         float64 `json:"offset_y"`
	Scale           float64 `json:"scale"`
	Blur            float64 `json:"blur"`
	Desaturation    float64 `json:"desaturation"`
	Glow            float64 `json:"glow"`
	Dominant        Side    `json:"dominant"`
}

type BlendKeyframe struct {
	Frame    int     `json:"frame"`
	Progress float64 `json:"progress"`
	BlendParams
}

type TransitionParams struct {
	Type        TransitionType  `json:"type"`
	Direction   Direction       `json:"direction,omitempty"`
	FromSceneID string          `json:"from_scene_id"`
	ToSceneID   string          `json:"to_scene_id"`
	Keyframes   []BlendKeyframe `json:"keyframes"`
}

type VolumeKeyframe struct {
	Frame  int     `json:"frame"`
	Volume float64 `json:"volume"`
}

// AudioEnvelope keyframes are ordered by frame (non-decreasing); two keyframes on
// the same frame describe a step.
type AudioEnvelope struct {
	TrackID   string           `json:"track_id"`
	Keyframes []VolumeKeyframe `json:"keyframes"`
}

// VolumeAt linearly interpolates the envelope. Outside the keyframe span the
// nearest end keyframe's volume holds.
func (e AudioEnvelope) VolumeAt(frame int) float64 {
	kfs := e.Keyframes
	if len(kfs) == 0 {
		return 0
	}
	if frame < kfs[0].Frame {
		return kfs[0].Volume
	}
	for i := 1; i < len(kfs); i++ {
		if kfs[i].Frame > frame {
			prev := kfs[i-1]
			next := kfs[i]
			t := float64(frame-prev.Frame) / float64(next.Frame-prev.Frame)
			return prev.Volume + (next.Volume-prev.Volume)*t
		}
	}
	return kfs[len(kfs)-1].Volume
}

type AudioParams struct {
	TrackID  string         `json:"track_id"`
	Kind     AudioTrackKind `json:"kind"`
	MediaURI string         `json:"media_uri,omitempty"`
	Volume   float64        `json:"volume"`
	Envelope *AudioEnvelope `json:"envelope,omitempty"`
}

type TimelineEntry struct {
	ID          string            `json:"id"`
	Layer       LayerType         `json:"layer"`
	SceneID     string            `json:"scene_id,omitempty"`
	StartFrame  int               `json:"start_frame"`
	EndFrame    int               `json:"end_frame"`
	Source      ParamSource       `json:"source"`
	Media       *MediaRef         `json:"media,omitempty"`
	Placeholder bool              `json:"placeholder,omitempty"`
	Transition  *TransitionParams `json:"transition,omitempty"`
	Text        *TextOverlay      `json:"text,omitempty"`
	Audio       *AudioParams      `json:"audio,omitempty"`
}

// Render plan

type PlanMetadata struct {
	FPS           int `json:"fps"`
	Width         int `json:"width"`
	Height        int `json:"height"`
	TotalFrames   int `json:"total_frames"`
	EndCardFrames int `json:"end_card_frames"`
}

type Warning struct {
	Code    string `json:"code"`
	SceneID string `json:"scene_id,omitempty"`
	Message string `json:"message"`
}

type SceneError struct {
	SceneID string       `json:"scene_id"`
	Outcome SceneOutcome `json:"outcome"`
	Status  TaskStatus   `json:"status"`
	Reason  string       `json:"reason"`
}

type SceneReport struct {
	SceneID  string       `json:"scene_id"`
	Outcome  SceneOutcome `json:"outcome"`
	Provider string       `json:"provider,omitempty"`
	Attempts int          `json:"attempts"`
}

type RenderPlan struct {
	Metadata    PlanMetadata    `json:"metadata"`
	Entries     []TimelineEntry `json:"entries"`
	Scenes      []SceneReport   `json:"scenes"`
	Warnings    []Warning       `json:"warnings"`
	SceneErrors []SceneError    `json:"scene_errors"`
}

// Runs

type RunStatus string

const (
	RunGenerating RunStatus = "generating"
	RunAssembling RunStatus = "assembling"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Production is the external input of one run: ordered scenes plus the
// run-wide audio bed.
type Production struct {
	Title  string    `json:"title,omitempty" yaml:"title,omitempty"`
	Scenes []Scene   `json:"scenes" yaml:"scenes"`
	Music  *MediaRef `json:"music,omitempty" yaml:"music,omitempty"`
}

type Run struct {
	ID          uuid.UUID         `json:"id"`
	Status      RunStatus         `json:"status"`
	Production  Production        `json:"-"`
	Resolutions []SceneResolution `json:"resolutions,omitempty"`
	Plan        *RenderPlan       `json:"plan,omitempty"`
	PlanURL     string            `json:"plan_url,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DTOs for API responses
type CreateRunResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status RunStatus `json:"status"`
}

type RegenerateRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RegenerateResponse struct {
	RunID   uuid.UUID  `json:"run_id"`
	SceneID string     `json:"scene_id"`
	JobID   *uuid.UUID `json:"job_id,omitempty"`
	Status  string     `json:"status"`
}
