package jamendo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Jaaaxx/DnD-Companion/pkg/catalog"
	"github.com/Jaaaxx/DnD-Companion/pkg/catalog/jamendo"
)

const tracksBody = `{"results": [
	{"id": "168", "name": "Dark Forest", "artist_name": "Lone Bard", "audio": "https://jam.test/168.mp3", "duration": 212},
	{"id": "169", "name": "Broken Lute", "artist_name": "Lone Bard", "audio": "", "duration": 90}
]}`

func newSource(t *testing.T, handler http.HandlerFunc) (*jamendo.Source, *url.Values) {
	t.Helper()
	var seen url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Query()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	src, err := jamendo.New("client-123",
		jamendo.WithBaseURL(srv.URL),
		jamendo.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return src, &seen
}

func TestNewRequiresClientID(t *testing.T) {
	t.Parallel()

	if _, err := jamendo.New(""); err == nil {
		t.Fatal("New with empty client ID succeeded")
	}
}

func TestSearchBuildsQueryAndMapsTracks(t *testing.T) {
	t.Parallel()

	src, seen := newSource(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(tracksBody))
	})

	tracks, err := src.Search(context.Background(), "dark forest", catalog.SearchOpts{
		Tags:        []string{"ambient", "fantasy"},
		MaxDuration: 300,
		Limit:       5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	q := *seen
	want := map[string]string{
		"client_id":       "client-123",
		"format":          "json",
		"limit":           "5",
		"search":          "dark forest",
		"audioformat":     "mp32",
		"tags":            "ambient+fantasy",
		"durationbetween": "0_300",
	}
	for key, val := range want {
		if got := q.Get(key); got != val {
			t.Errorf("query %s = %q, want %q", key, got, val)
		}
	}

	// The audio-less result is dropped.
	if len(tracks) != 1 {
		t.Fatalf("tracks = %+v, want 1", tracks)
	}
	tr := tracks[0]
	if tr.ID != "jam-168" || tr.Src != "https://jam.test/168.mp3" {
		t.Errorf("track = %+v", tr)
	}
	if tr.Type != catalog.TypeMusic || !tr.Loop || tr.Duration != 212 {
		t.Errorf("track = %+v, want looping music with duration", tr)
	}
	if tr.Attribution != "Dark Forest by Lone Bard (Jamendo)" {
		t.Errorf("attribution = %q", tr.Attribution)
	}
}

func TestSearchDefaultLimit(t *testing.T) {
	t.Parallel()

	src, seen := newSource(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results": []}`))
	})
	if _, err := src.Search(context.Background(), "tavern", catalog.SearchOpts{}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	q := *seen
	if got := q.Get("limit"); got != "20" {
		t.Errorf("limit = %q, want 20", got)
	}
	if q.Has("tags") || q.Has("durationbetween") {
		t.Errorf("unexpected filters in query %v", q)
	}
}

func TestSearchAPIError(t *testing.T) {
	t.Parallel()

	src, _ := newSource(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := src.Search(context.Background(), "tavern", catalog.SearchOpts{}); err == nil {
		t.Fatal("search against failing API succeeded")
	}
}
