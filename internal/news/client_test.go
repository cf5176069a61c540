package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const sampleResponse = `{
	"news_results": [
		{"title": "Yam harvest up", "link": "https://news.example/1", "snippet": "a"},
		{"title": "Drought relief", "link": "https://news.example/2", "snippet": "b"},
		{"title": "Export deal", "link": "https://news.example/3", "snippet": "c"},
		{"title": "New irrigation", "link": "https://news.example/4", "snippet": "d"},
		{"title": "Banana prices", "link": "https://news.example/5", "snippet": "e"},
		{"title": "Sixth story", "link": "https://news.example/6", "snippet": "f"}
	]
}`

func TestTopReturnsAtMostFive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Jamaica agriculture site:news.google.com" {
			t.Errorf("query = %q", got)
		}
		if r.URL.Query().Get("api_key") != "k" {
			t.Errorf("missing api key")
		}
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	items, err := c.Top(context.Background())
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("got %d items, want 5", len(items))
	}
	if items[0].Title != "Yam harvest up" || items[0].Link != "https://news.example/1" {
		t.Fatalf("first item = %+v", items[0])
	}
}

func TestTopUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	if _, err := c.Top(context.Background()); err == nil {
		t.Fatalf("expected error on upstream failure")
	}
}

func TestTopUsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithCache(rdb))
	ctx := context.Background()
	if _, err := c.Top(ctx); err != nil {
		t.Fatalf("first top: %v", err)
	}
	if _, err := c.Top(ctx); err != nil {
		t.Fatalf("second top: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("upstream hit %d times, want 1", hits.Load())
	}
}
