// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Difficulty is one of the fixed chart difficulties.
type Difficulty string

// Known difficulties.
const (
	Easy   Difficulty = "easy"
	Normal Difficulty = "normal"
	Hard   Difficulty = "hard"
)

// Difficulties lists every known difficulty in display order.
var Difficulties = []Difficulty{Easy, Normal, Hard} //nolint:gochecknoglobals // fixed enumeration

// ParseDifficulty normalizes free-form input. Anything unrecognized maps to Normal.
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case Easy:
		return Easy
	case Hard:
		return Hard
	default:
		return Normal
	}
}

// Partition identifies the set of records sharing one (track, difficulty) pair.
type Partition struct {
	TrackID    string
	Difficulty Difficulty
}

// String renders the partition as "difficulty:track". Difficulty never contains
// a colon, so the first colon always separates the two parts.
func (p Partition) String() string {
	return string(p.Difficulty) + ":" + p.TrackID
}

// ParsePartition reverses Partition.String.
func ParsePartition(s string) (Partition, bool) {
	diff, track, ok := strings.Cut(s, ":")
	if !ok || track == "" {
		return Partition{}, false
	}
	return Partition{TrackID: track, Difficulty: ParseDifficulty(diff)}, true
}

// Key identifies exactly one record.
type Key struct {
	Partition
	PlayerName string
}

// ScoreRecord is a player's best result on one chart.
type ScoreRecord struct {
	TrackID    string
	Difficulty Difficulty
	PlayerName string
	Score      int64
	AccuracyBP int32 // basis points, 0..10000
	Combo      int32
	Timestamp  time.Time
}

// Partition returns the record's partition.
func (r ScoreRecord) Partition() Partition {
	return Partition{TrackID: r.TrackID, Difficulty: r.Difficulty}
}

// Key returns the record's storage key.
func (r ScoreRecord) Key() Key {
	return Key{Partition: r.Partition(), PlayerName: r.PlayerName}
}

// Accuracy returns the accuracy as a 0..1 fraction.
func (r ScoreRecord) Accuracy() float64 {
	return float64(r.AccuracyBP) / AccuracyScale
}
