package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/rhythmboard/internal/domain/model"
	types "github.com/okian/rhythmboard/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEntry(t *testing.T) {
	Convey("Given a stored record", t, func() {
		ts := time.Date(2026, 5, 1, 20, 0, 0, 123_456_789, time.UTC)
		rec := model.ScoreRecord{
			TrackID: "neon", Difficulty: model.Hard, PlayerName: "Ace",
			Score: 987654, AccuracyBP: 9731, Combo: 412, Timestamp: ts,
		}

		Convey("When converting it to an entry", func() {
			entry := types.FromRecord(rec)

			Convey("Then accuracy is a fraction and the timestamp is in milliseconds", func() {
				So(entry.Name, ShouldEqual, "Ace")
				So(entry.Score, ShouldEqual, int64(987654))
				So(entry.Acc, ShouldAlmostEqual, 0.9731, 1e-9)
				So(entry.Combo, ShouldEqual, int32(412))
				So(entry.Timestamp, ShouldEqual, ts.UnixMilli())
			})

			Convey("And it encodes with the client's field names", func() {
				raw, err := json.Marshal(entry)
				So(err, ShouldBeNil)
				var m map[string]any
				So(json.Unmarshal(raw, &m), ShouldBeNil)
				So(m, ShouldContainKey, "name")
				So(m, ShouldContainKey, "acc")
				So(m, ShouldContainKey, "timestamp")
				So(len(m), ShouldEqual, 5)
			})
		})

		Convey("When converting an empty list", func() {
			out := types.FromRecords(nil)

			Convey("Then it encodes as an empty array", func() {
				raw, err := json.Marshal(out)
				So(err, ShouldBeNil)
				So(string(raw), ShouldEqual, "[]")
			})
		})
	})
}

func TestSubmitResponse(t *testing.T) {
	Convey("Given a submission that fell out of the retained window", t, func() {
		raw, err := json.Marshal(types.SubmitResponse{OK: true, Total: 100, Improved: true})

		Convey("Then rank encodes as null", func() {
			So(err, ShouldBeNil)
			So(string(raw), ShouldEqual, `{"ok":true,"rank":null,"total":100,"improved":true}`)
		})
	})
}
