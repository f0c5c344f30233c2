package tmdb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kalambet/whatnext/internal/storage"
)

const genreList = `{"genres":[{"id":28,"name":"Action"},{"id":53,"name":"Thriller"}]}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestPopular_MapsListItems(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "test-key" {
			t.Errorf("missing api_key query param: %s", r.URL.String())
		}
		switch r.URL.Path {
		case "/genre/movie/list":
			fmt.Fprint(w, genreList)
		case "/movie/popular":
			if r.URL.Query().Get("page") != "2" {
				t.Errorf("expected page=2, got %s", r.URL.Query().Get("page"))
			}
			fmt.Fprint(w, `{"page":2,"results":[
				{"id":603,"title":"The Matrix","release_date":"1999-03-30","genre_ids":[28,53],
				 "original_language":"en","vote_average":8.2,"popularity":91.5}
			]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	c := NewClient("test-key", srv.URL)
	got, err := c.Movies().Popular(context.Background(), 2)
	if err != nil {
		t.Fatalf("Popular: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(got))
	}

	e := got[0]
	if e.Domain != storage.DomainMovie || e.ExternalID != "603" {
		t.Errorf("wrong identity: %s/%s", e.Domain, e.ExternalID)
	}
	if e.Name != "The Matrix" || e.Year != 1999 || e.Language != "en" {
		t.Errorf("wrong attributes: %+v", e)
	}
	if e.Rating != 8.2 || e.Popularity != 91.5 {
		t.Errorf("wrong numbers: %+v", e)
	}
	if len(e.Categories) != 2 || e.Categories[0] != "Action" {
		t.Errorf("genre IDs not resolved: %v", e.Categories)
	}
}

func TestShows_UsesTVFields(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/genre/tv/list":
			fmt.Fprint(w, `{"genres":[{"id":18,"name":"Drama"}]}`)
		case "/tv/popular":
			fmt.Fprint(w, `{"results":[
				{"id":1396,"name":"Breaking Bad","first_air_date":"2008-01-20","genre_ids":[18],
				 "original_language":"en","vote_average":8.9}
			]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	c := NewClient("k", srv.URL)
	got, err := c.Shows().Popular(context.Background(), 1)
	if err != nil {
		t.Fatalf("Popular: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Breaking Bad" || got[0].Year != 2008 {
		t.Errorf("tv fields not mapped: %+v", got)
	}
	if got[0].Domain != storage.DomainTV {
		t.Errorf("wrong domain %q", got[0].Domain)
	}
}

func TestDetails_MovieRuntimeAndProviders(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/603" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("append_to_response") != "watch/providers" {
			t.Errorf("missing append_to_response: %s", r.URL.String())
		}
		fmt.Fprint(w, `{"id":603,"title":"The Matrix","release_date":"1999-03-30",
			"genres":[{"id":28,"name":"Action"}],"original_language":"en",
			"vote_average":8.2,"runtime":136,
			"watch/providers":{"results":{"US":{"flatrate":[{"provider_name":"Netflix"}]}}}}`)
	})

	c := NewClient("k", srv.URL)
	e, err := c.Movies().Details(context.Background(), "603")
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if e.Runtime != 136 {
		t.Errorf("expected runtime 136, got %d", e.Runtime)
	}
	if len(e.Categories) != 1 || e.Categories[0] != "Action" {
		t.Errorf("genres not mapped: %v", e.Categories)
	}
	if len(e.Tags) != 1 || e.Tags[0] != "Netflix" {
		t.Errorf("streaming providers not mapped: %v", e.Tags)
	}
}

// TestDetails_TVEpisodeRuntime verifies the TV runtime is the average
// episode length.
func TestDetails_TVEpisodeRuntime(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":1396,"name":"Breaking Bad","first_air_date":"2008-01-20",
			"episode_run_time":[45,47,49]}`)
	})

	c := NewClient("k", srv.URL)
	e, err := c.Shows().Details(context.Background(), "1396")
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if e.Runtime != 47 {
		t.Errorf("expected average episode runtime 47, got %d", e.Runtime)
	}
}

func TestSimilar(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/genre/movie/list":
			fmt.Fprint(w, genreList)
		case "/movie/603/similar":
			fmt.Fprint(w, `{"results":[{"id":604,"title":"The Matrix Reloaded","vote_average":7.0}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	c := NewClient("k", srv.URL)
	got, err := c.Movies().Similar(context.Background(), "603")
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "604" {
		t.Errorf("similar not mapped: %+v", got)
	}
}

// TestNoAPIKey_DegradesToEmpty verifies the keyless client returns empty
// lists without ever hitting the network.
func TestNoAPIKey_DegradesToEmpty(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("keyless client must not call the API, got %s", r.URL.Path)
	})

	c := NewClient("", srv.URL)
	movies := c.Movies()

	got, err := movies.Popular(context.Background(), 1)
	if err != nil || got != nil {
		t.Errorf("expected empty, no error; got %v, %v", got, err)
	}
	got, err = movies.Similar(context.Background(), "1")
	if err != nil || got != nil {
		t.Errorf("expected empty, no error; got %v, %v", got, err)
	}
	if _, err := movies.Details(context.Background(), "1"); err == nil {
		t.Error("keyless Details should report the missing key")
	}
}

func TestGet_NonOKStatus(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/genre/movie/list" {
			fmt.Fprint(w, genreList)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"status_message":"Invalid API key"}`)
	})

	c := NewClient("bad", srv.URL)
	if _, err := c.Movies().Popular(context.Background(), 1); err == nil {
		t.Error("expected error for 401 response")
	}
}

// TestGenreCache_SingleFetch verifies the genre table is fetched once per
// kind and reused for subsequent list calls.
func TestGenreCache_SingleFetch(t *testing.T) {
	var genreCalls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/genre/movie/list":
			genreCalls.Add(1)
			fmt.Fprint(w, genreList)
		case "/movie/popular":
			fmt.Fprint(w, `{"results":[{"id":1,"title":"X","genre_ids":[28]}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	c := NewClient("k", srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.Movies().Popular(context.Background(), 1); err != nil {
			t.Fatalf("Popular round %d: %v", i, err)
		}
	}
	if n := genreCalls.Load(); n != 1 {
		t.Errorf("expected 1 genre fetch, got %d", n)
	}
}
