package site

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSiteHandler(t *testing.T) {
	Convey("Given a site handler", t, func() {
		ctx := context.Background()
		mux := http.NewServeMux()

		Convey("When registering the site handler", func() {
			Register(ctx, mux)

			Convey("Then it should serve the viewer at /", func() {
				req := httptest.NewRequest("GET", "/", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/html")
				So(w.Body.String(), ShouldContainSubstring, "Rhythm Leaderboard")
				So(w.Header().Get("Cache-Control"), ShouldEqual, "no-cache")
			})

			Convey("And it should serve the script", func() {
				req := httptest.NewRequest("GET", "/app.js", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "/leaderboard/")
			})

			Convey("And unknown assets are not found", func() {
				req := httptest.NewRequest("GET", "/some-asset", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				So(w.Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("And API routes on the same mux win", func() {
				mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusTeapot)
				})
				req := httptest.NewRequest("GET", "/readyz", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				So(w.Code, ShouldEqual, http.StatusTeapot)
			})
		})
	})
}

func TestSiteHandlerWithNilMux(t *testing.T) {
	Convey("Given a nil mux", t, func() {
		So(func() { Register(context.Background(), nil) }, ShouldPanic)
	})
}
