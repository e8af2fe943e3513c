// Package ranking defines the total order used wherever score records are ranked.
//
// Ordering: score DESC, accuracy DESC, combo DESC, timestamp ASC, player name ASC.
// The player name only separates distinct players that tie on every other field
// down to the nanosecond; it keeps the order total so that a rank number is
// always a unique position.
package ranking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/rhythmboard/internal/domain/model"
)

// Compare returns a negative number when a ranks ahead of b, a positive number
// when b ranks ahead of a and zero when both occupy the same position.
func Compare(a, b model.ScoreRecord) int {
	switch {
	case a.Score != b.Score:
		return cmpDesc(a.Score, b.Score)
	case a.AccuracyBP != b.AccuracyBP:
		return cmpDesc(int64(a.AccuracyBP), int64(b.AccuracyBP))
	case a.Combo != b.Combo:
		return cmpDesc(int64(a.Combo), int64(b.Combo))
	}
	at, bt := a.Timestamp.UnixNano(), b.Timestamp.UnixNano()
	if at != bt {
		if at < bt {
			return -1
		}
		return 1
	}
	return strings.Compare(a.PlayerName, b.PlayerName)
}

func cmpDesc(a, b int64) int {
	if a > b {
		return -1
	}
	return 1
}

// Less reports whether a ranks strictly ahead of b.
func Less(a, b model.ScoreRecord) bool {
	return Compare(a, b) < 0
}

// StrictlyImproves reports whether candidate should replace existing.
// Exact ties on the ranked fields never count as an improvement, so an
// identical resubmission is never rewritten.
func StrictlyImproves(candidate, existing model.ScoreRecord) bool {
	if SameResult(candidate, existing) {
		return false
	}
	return Less(candidate, existing)
}

// SameResult reports whether two records carry identical ranked fields.
func SameResult(a, b model.ScoreRecord) bool {
	return a.Score == b.Score &&
		a.AccuracyBP == b.AccuracyBP &&
		a.Combo == b.Combo &&
		a.Timestamp.Equal(b.Timestamp)
}

// Sort key layout. Each field is inverted where needed so that ascending byte
// order of the key equals ranking order.
const (
	scoreWidth  = 9
	accWidth    = 5
	comboWidth  = 4
	tsWidth     = 19
	prefixWidth = scoreWidth + accWidth + comboWidth + tsWidth
)

// SortKeyPrefixLen is the length of the digits-only part of a SortKey that
// carries the ranked fields. For one player, comparing these prefixes byte-wise
// gives the same answer as StrictlyImproves.
const SortKeyPrefixLen = prefixWidth

// SortKey encodes the record into a string whose byte order matches Compare.
// The player name is appended after the fixed-width prefix.
func SortKey(r model.ScoreRecord) string {
	ts := r.Timestamp.UnixNano()
	if ts < 0 {
		ts = 0
	}
	var b strings.Builder
	b.Grow(prefixWidth + len(r.PlayerName))
	fmt.Fprintf(&b, "%0*d%0*d%0*d%0*d",
		scoreWidth, model.MaxScore-r.Score,
		accWidth, model.AccuracyScale-int64(r.AccuracyBP),
		comboWidth, model.MaxCombo-int64(r.Combo),
		tsWidth, ts,
	)
	b.WriteString(r.PlayerName)
	return b.String()
}

// ParseSortKey decodes a key produced by SortKey for the given partition.
func ParseSortKey(p model.Partition, key string) (model.ScoreRecord, error) {
	if len(key) < prefixWidth {
		return model.ScoreRecord{}, fmt.Errorf("%w: short key %q", ErrMalformedKey, key)
	}
	fields := [4]int64{}
	widths := [4]int{scoreWidth, accWidth, comboWidth, tsWidth}
	off := 0
	for i, w := range widths {
		v, err := strconv.ParseInt(key[off:off+w], 10, 64)
		if err != nil {
			return model.ScoreRecord{}, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		fields[i] = v
		off += w
	}
	return model.ScoreRecord{
		TrackID:    p.TrackID,
		Difficulty: p.Difficulty,
		PlayerName: key[prefixWidth:],
		Score:      model.MaxScore - fields[0],
		AccuracyBP: int32(model.AccuracyScale - fields[1]),
		Combo:      int32(model.MaxCombo - fields[2]),
		Timestamp:  time.Unix(0, fields[3]).UTC(),
	}, nil
}
