// Package types contains the wire shapes shared by the HTTP API and its clients.
package types

import "github.com/okian/rhythmboard/internal/domain/model"

// Entry represents one leaderboard row.
type Entry struct {
	Name      string  `json:"name"`
	Score     int64   `json:"score"`
	Acc       float64 `json:"acc"` // 0..1
	Combo     int32   `json:"combo"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// FromRecord converts a stored record to its wire form.
func FromRecord(r model.ScoreRecord) Entry {
	return Entry{
		Name:      r.PlayerName,
		Score:     r.Score,
		Acc:       r.Accuracy(),
		Combo:     r.Combo,
		Timestamp: r.Timestamp.UnixMilli(),
	}
}

// FromRecords converts records in order. The result is never nil.
func FromRecords(recs []model.ScoreRecord) []Entry {
	out := make([]Entry, len(recs))
	for i, r := range recs {
		out[i] = FromRecord(r)
	}
	return out
}

// SubmitRequest is the POST /leaderboard/submit body.
type SubmitRequest struct {
	TrackID    string  `json:"trackId"`
	Difficulty string  `json:"difficulty,omitempty"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Acc        float64 `json:"acc"`
	Combo      float64 `json:"combo"`
}

// SubmitResponse acknowledges a stored submission. Rank is null when the
// player's record did not make the retained window.
type SubmitResponse struct {
	OK       bool `json:"ok"`
	Rank     *int `json:"rank"`
	Total    int  `json:"total"`
	Improved bool `json:"improved"`
}

// RankResponse answers GET /leaderboard/{trackId}/rank.
type RankResponse struct {
	OK         bool   `json:"ok"`
	TrackID    string `json:"trackId"`
	Difficulty string `json:"difficulty"`
	Name       string `json:"name"`
	Rank       *int   `json:"rank"`
	Total      int    `json:"total"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
