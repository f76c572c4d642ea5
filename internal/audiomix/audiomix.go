// Package audiomix computes the audio layers of a render plan: voice tracks,
// the music bed with its ducking envelope, and one-shot sound events.
package audiomix

import (
	"fmt"
	"sort"
	"time"

	"github.com/bobarin/montage/internal/config"
	"github.com/bobarin/montage/internal/models"
)

const MusicTrackID = "music"

type Settings struct {
	MusicVolume   float64 // V0
	DuckVolume    float64 // Vd
	RampInFrames  int
	RampOutFrames int
	VoiceVolume   float64
}

func SettingsFrom(c config.AudioConfig, fps int) Settings {
	return Settings{
		MusicVolume:   c.MusicVolume,
		DuckVolume:    c.DuckVolume,
		RampInFrames:  durationFrames(c.RampIn, fps),
		RampOutFrames: durationFrames(c.RampOut, fps),
		VoiceVolume:   c.VoiceVolume,
	}
}

func durationFrames(d time.Duration, fps int) int {
	return int(d.Seconds()*float64(fps) + 0.5)
}

func (s Settings) Validate() error {
	if s.MusicVolume <= 0 || s.MusicVolume > 1 {
		return models.ConfigError("music volume must be in (0, 1], got %v", s.MusicVolume)
	}
	if s.DuckVolume < 0 || s.DuckVolume >= s.MusicVolume {
		return models.ConfigError("duck volume %v must be in [0, %v)", s.DuckVolume, s.MusicVolume)
	}
	if s.RampInFrames < 0 || s.RampOutFrames < 0 {
		return models.ConfigError("ramp durations must not be negative")
	}
	if s.VoiceVolume < 0 || s.VoiceVolume > 1 {
		return models.ConfigError("voice volume must be in [0, 1], got %v", s.VoiceVolume)
	}
	return nil
}

// Interval is a voice-active frame range [Start, End).
type Interval struct {
	Start int
	End   int
}

// Merge sorts intervals and joins any two whose ducks would touch: when the
// ramp back up after one would run past the ramp down before the next, the
// music stays low across the gap.
func Merge(intervals []Interval, s Settings) []Interval {
	var sorted []Interval
	for _, iv := range intervals {
		if iv.End > iv.Start {
			sorted = append(sorted, iv)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	var merged []Interval
	for _, iv := range sorted {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if iv.Start-s.RampInFrames < last.End+s.RampOutFrames {
				last.End = max(last.End, iv.End)
				continue
			}
		}
		merged = append(merged, iv)
	}
	return merged
}

// DuckEnvelope builds the music volume envelope over [0, totalFrames). Outside
// voice activity the volume is V0; it ramps linearly down to Vd over the
// ramp-in frames before each (merged) voice interval, holds Vd through it,
// and ramps back to V0 over the ramp-out frames after it. No keyframe lies
// past totalFrames.
func DuckEnvelope(trackID string, voice []Interval, totalFrames int, s Settings) models.AudioEnvelope {
	v0, vd := s.MusicVolume, s.DuckVolume
	env := models.AudioEnvelope{TrackID: trackID}
	add := func(frame int, vol float64) {
		env.Keyframes = append(env.Keyframes, models.VolumeKeyframe{Frame: frame, Volume: vol})
	}

	// Voice past the end of the program does not extend the envelope
	clamped := make([]Interval, 0, len(voice))
	for _, iv := range voice {
		iv.End = min(iv.End, totalFrames)
		clamped = append(clamped, iv)
	}

	add(0, v0)
	for _, iv := range Merge(clamped, s) {
		rampStart := iv.Start - s.RampInFrames
		if rampStart < 0 {
			// Ramp began before the program: enter mid-ramp at frame 0.
			t := float64(-rampStart) / float64(s.RampInFrames)
			env.Keyframes[len(env.Keyframes)-1].Volume = v0 + (vd-v0)*t
		} else {
			add(rampStart, v0)
		}
		add(iv.Start, vd)
		add(iv.End, vd)
		if release := iv.End + s.RampOutFrames; release <= totalFrames {
			add(release, v0)
			continue
		}
		// Program ends mid-ramp: stop at the ramp's volume on the last frame.
		if iv.End < totalFrames {
			t := float64(totalFrames-iv.End) / float64(s.RampOutFrames)
			add(totalFrames, vd+(v0-vd)*t)
		}
	}
	if last := env.Keyframes[len(env.Keyframes)-1]; last.Frame < totalFrames {
		add(totalFrames, v0)
	}
	return env
}

// Voice is a narration clip placed on the absolute frame axis.
type Voice struct {
	SceneID  string
	MediaURI string
	Start    int
	End      int
}

// Sound is a one-shot effect placed on the absolute frame axis.
type Sound struct {
	SceneID  string
	ID       string
	MediaURI string
	Start    int
	End      int
	Volume   float64
}

type Input struct {
	TotalFrames int
	Music       *models.MediaRef
	Voices      []Voice
	Sounds      []Sound
}

// Track is one audio layer of the mix.
type Track struct {
	ID         string
	SceneID    string
	Kind       models.AudioTrackKind
	MediaURI   string
	StartFrame int
	EndFrame   int
	Volume     float64
	Envelope   *models.AudioEnvelope
}

// Mix returns voice tracks in input order, then the music bed, then sound
// events in input order. Sound events never touch the music envelope.
func Mix(in Input, s Settings) ([]Track, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if in.TotalFrames <= 0 {
		return nil, models.ConfigError("mix needs a positive frame count, got %d", in.TotalFrames)
	}

	tracks := make([]Track, 0, len(in.Voices)+len(in.Sounds)+1)
	intervals := make([]Interval, 0, len(in.Voices))

	for _, v := range in.Voices {
		tracks = append(tracks, Track{
			ID:         "voice:" + v.SceneID,
			SceneID:    v.SceneID,
			Kind:       models.TrackVoice,
			MediaURI:   v.MediaURI,
			StartFrame: v.Start,
			EndFrame:   v.End,
			Volume:     s.VoiceVolume,
		})
		intervals = append(intervals, Interval{Start: v.Start, End: v.End})
	}

	if in.Music != nil {
		env := DuckEnvelope(MusicTrackID, intervals, in.TotalFrames, s)
		tracks = append(tracks, Track{
			ID:         MusicTrackID,
			Kind:       models.TrackMusic,
			MediaURI:   in.Music.URI,
			StartFrame: 0,
			EndFrame:   in.TotalFrames,
			Volume:     s.MusicVolume,
			Envelope:   &env,
		})
	}

	for _, snd := range in.Sounds {
		if snd.Volume < 0 || snd.Volume > 1 {
			return nil, models.ConfigError("sound %s: volume %v out of [0, 1]", snd.ID, snd.Volume)
		}
		tracks = append(tracks, Track{
			ID:         fmt.Sprintf("sfx:%s:%s", snd.SceneID, snd.ID),
			SceneID:    snd.SceneID,
			Kind:       models.TrackSound,
			MediaURI:   snd.MediaURI,
			StartFrame: snd.Start,
			EndFrame:   snd.End,
			Volume:     snd.Volume,
		})
	}

	return tracks, nil
}
