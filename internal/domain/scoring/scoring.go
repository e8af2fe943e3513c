// Package scoring turns raw client submissions into normalized score records.
//
// Numeric fields are clamped into range rather than rejected; only a missing
// or unusable track identifier is a validation failure.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/okian/rhythmboard/internal/domain/model"
)

// Input mirrors the submit request body after JSON decoding.
type Input struct {
	TrackID    string
	Difficulty string
	Name       string
	Score      float64
	Accuracy   float64
	Combo      float64
}

// Option applies a configuration option to the Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// WithMaxNameLength overrides the player name length bound (in runes).
func WithMaxNameLength(maxLen int) Option {
	return func(n *Normalizer) {
		if maxLen > 0 {
			n.maxNameLen = maxLen
		}
	}
}

// Normalizer validates and clamps submissions.
type Normalizer struct {
	now        func() time.Time
	maxNameLen int
}

// NewNormalizer creates a normalizer with configuration options.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		now:        time.Now,
		maxNameLen: model.MaxPlayerNameLen,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates in and returns the record to submit, stamped with the
// current time.
func (n *Normalizer) Normalize(in Input) (model.ScoreRecord, error) {
	track, err := NormalizeTrackID(in.TrackID)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	return model.ScoreRecord{
		TrackID:    track,
		Difficulty: model.ParseDifficulty(in.Difficulty),
		PlayerName: SanitizeName(in.Name, n.maxNameLen),
		Score:      ClampScore(in.Score),
		AccuracyBP: AccuracyToBP(in.Accuracy),
		Combo:      ClampCombo(in.Combo),
		Timestamp:  n.now().UTC(),
	}, nil
}

// Key normalizes a lookup the same way Normalize treats a submission, so a
// rank query finds the record its submission produced.
func (n *Normalizer) Key(trackID, difficulty, name string) (model.Key, error) {
	track, err := NormalizeTrackID(trackID)
	if err != nil {
		return model.Key{}, err
	}
	return model.Key{
		Partition:  model.Partition{TrackID: track, Difficulty: model.ParseDifficulty(difficulty)},
		PlayerName: SanitizeName(name, n.maxNameLen),
	}, nil
}

// NormalizeTrackID trims the identifier and rejects empty, oversized or
// control-character input.
func NormalizeTrackID(s string) (string, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "", fmt.Errorf("%w: trackId is required", ErrInvalidTrack)
	case len(s) > model.MaxTrackIDLen:
		return "", fmt.Errorf("%w: trackId longer than %d bytes", ErrInvalidTrack, model.MaxTrackIDLen)
	case !utf8.ValidString(s):
		return "", fmt.Errorf("%w: trackId is not valid UTF-8", ErrInvalidTrack)
	case strings.IndexFunc(s, unicode.IsControl) >= 0:
		return "", fmt.Errorf("%w: trackId contains control characters", ErrInvalidTrack)
	}
	return s, nil
}

// SanitizeName strips control characters and angle brackets, trims the result
// and truncates it to maxLen runes. An empty result becomes the anonymous name.
func SanitizeName(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxLen {
		s = strings.TrimSpace(string([]rune(s)[:maxLen]))
	}
	if s == "" {
		return model.AnonymousName
	}
	return s
}

// ClampScore truncates to an integer and clamps into [0, MaxScore].
func ClampScore(v float64) int64 {
	return int64(clamp(math.Trunc(v), 0, model.MaxScore))
}

// AccuracyToBP converts a 0..1 fraction to basis points, rounding to nearest.
func AccuracyToBP(v float64) int32 {
	return int32(clamp(math.Round(v*model.AccuracyScale), 0, model.AccuracyScale))
}

// ClampCombo truncates to an integer and clamps into [0, MaxCombo].
func ClampCombo(v float64) int32 {
	return int32(clamp(math.Trunc(v), 0, model.MaxCombo))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
