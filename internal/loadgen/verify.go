package loadgen

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/ranking"
	"github.com/okian/rhythmboard/internal/domain/scoring"
	"github.com/okian/rhythmboard/internal/domain/types"
)

// ErrViolation marks a board that breaks a leaderboard invariant.
var ErrViolation = errors.New("leaderboard violation")

// Reference holds each player's expected best result per partition.
type Reference map[model.Partition]map[string]model.ScoreRecord

// BuildReference applies the server's normalization to every submission
// and keeps each player's best. Timestamps are left zero: only the ranked
// values are predictable from the client side.
func BuildReference(subs []types.SubmitRequest) Reference {
	ref := make(Reference)
	for _, s := range subs {
		track, err := scoring.NormalizeTrackID(s.TrackID)
		if err != nil {
			continue
		}
		rec := model.ScoreRecord{
			TrackID:    track,
			Difficulty: model.ParseDifficulty(s.Difficulty),
			PlayerName: scoring.SanitizeName(s.Name, model.MaxPlayerNameLen),
			Score:      scoring.ClampScore(s.Score),
			AccuracyBP: scoring.AccuracyToBP(s.Acc),
			Combo:      scoring.ClampCombo(s.Combo),
		}
		players, ok := ref[rec.Partition()]
		if !ok {
			players = make(map[string]model.ScoreRecord)
			ref[rec.Partition()] = players
		}
		if cur, ok := players[rec.PlayerName]; !ok || compareValues(rec, cur) < 0 {
			players[rec.PlayerName] = rec
		}
	}
	return ref
}

// Retained is the number of players the server should keep for p.
func (r Reference) Retained(p model.Partition, maxPerPartition int) int {
	return min(len(r[p]), maxPerPartition)
}

// compareValues orders by the ranked values only.
func compareValues(a, b model.ScoreRecord) int {
	a.Timestamp, b.Timestamp = time.Time{}, time.Time{}
	a.PlayerName, b.PlayerName = "", ""
	return ranking.Compare(a, b)
}

func entryRecord(p model.Partition, e types.Entry) model.ScoreRecord {
	return model.ScoreRecord{
		TrackID:    p.TrackID,
		Difficulty: p.Difficulty,
		PlayerName: e.Name,
		Score:      e.Score,
		AccuracyBP: scoring.AccuracyToBP(e.Acc),
		Combo:      e.Combo,
	}
}

// VerifyBoard checks a board read with the given limit against the
// reference. Every violation found is returned.
func VerifyBoard(p model.Partition, ref Reference, entries []types.Entry, maxPerPartition, limit int) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrViolation, p, fmt.Sprintf(format, args...)))
	}

	players := ref[p]
	if want := min(ref.Retained(p, maxPerPartition), limit); len(entries) != want {
		fail("board has %d entries, want %d", len(entries), want)
	}

	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if _, dup := seen[e.Name]; dup {
			fail("player %q listed twice", e.Name)
		}
		seen[e.Name] = struct{}{}

		best, ok := players[e.Name]
		got := entryRecord(p, e)
		switch {
		case !ok:
			fail("unknown player %q at position %d", e.Name, i+1)
		case compareValues(got, best) != 0:
			fail("player %q holds %d/%d/%d, best submitted was %d/%d/%d",
				e.Name, got.Score, got.AccuracyBP, got.Combo, best.Score, best.AccuracyBP, best.Combo)
		}

		if i == 0 {
			continue
		}
		prev := entries[i-1]
		switch c := compareValues(entryRecord(p, prev), got); {
		case c > 0:
			fail("position %d ranks ahead of position %d", i+1, i)
		case c == 0 && prev.Timestamp > e.Timestamp:
			fail("tie at position %d is not broken by submission time", i+1)
		}
	}

	// Nobody left off the board may beat its last entry.
	if len(entries) > 0 {
		last := entryRecord(p, entries[len(entries)-1])
		for name, best := range players {
			if _, listed := seen[name]; listed {
				continue
			}
			if compareValues(best, last) < 0 {
				fail("player %q was pruned but beats the last retained entry", name)
			}
		}
	}
	return errs
}

// VerifyRank checks a rank answer against the board read back for the same
// partition.
func VerifyRank(p model.Partition, ref Reference, entries []types.Entry, res types.RankResponse, maxPerPartition int) error {
	retained := ref.Retained(p, maxPerPartition)
	if res.Total != retained {
		return fmt.Errorf("%w: %s: total %d, want %d", ErrViolation, p, res.Total, retained)
	}
	for i, e := range entries {
		if e.Name != res.Name {
			continue
		}
		if res.Rank == nil || *res.Rank != i+1 {
			return fmt.Errorf("%w: %s: %q rank %v, board position %d", ErrViolation, p, res.Name, rankString(res.Rank), i+1)
		}
		return nil
	}
	complete := len(entries) == retained
	switch {
	case res.Rank == nil:
		return nil
	case complete:
		return fmt.Errorf("%w: %s: %q ranked %d but absent from the board", ErrViolation, p, res.Name, *res.Rank)
	case *res.Rank <= len(entries):
		return fmt.Errorf("%w: %s: %q ranked %d but not at that position", ErrViolation, p, res.Name, *res.Rank)
	}
	return nil
}

func rankString(r *int) string {
	if r == nil {
		return "null"
	}
	return fmt.Sprint(*r)
}
