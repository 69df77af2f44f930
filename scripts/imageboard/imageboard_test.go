package imageboard

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"scrapekit/internal/emit"
	"scrapekit/internal/fetch"
	"scrapekit/internal/runtime"
)

// boardServer simulates the cookie gate: the thread page sets a view
// cookie, and file view pages only reveal the full-size image when the
// cookie comes back.
func boardServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/thread/42":
			http.SetCookie(w, &http.Cookie{Name: "view", Value: "full"})
			fmt.Fprint(w, `<html><body>
				<a class="file" href="/view/1">photo one</a>
				<a class="file" href="/files/clip.webm">clip</a>
				<div class="post"><img src="/thumb/t9.jpg"></div>
			</body></html>`)
		case "/view/1":
			if c, err := r.Cookie("view"); err != nil || c.Value != "full" {
				http.Error(w, "cookie required", http.StatusForbidden)
				return
			}
			fmt.Fprint(w, `<html><body><img id="full" src="/files/one_full.jpg"></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRunner(onPartial emit.PartialFunc) *runtime.Runner {
	return runtime.NewRunner(runtime.Config{
		Fetch:     fetch.Config{},
		OnPartial: onPartial,
		Sleep:     func(context.Context, time.Duration) error { return nil },
	})
}

func TestImageboardSessionAndFullSize(t *testing.T) {
	srv := boardServer(t)

	var partials []emit.Item
	r := testRunner(func(it emit.Item) { partials = append(partials, it) })

	out := r.ExecuteURL(context.Background(), "imageboard", srv.URL+"/thread/42", nil)
	if out.Err != nil {
		t.Fatalf("run failed: %v", out.Err)
	}

	var got []string
	for _, it := range out.Batch.Items {
		got = append(got, it.Filename)
	}
	want := []string{"one_full.jpg", "clip.webm", "t9.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filenames = %v, want %v", got, want)
	}

	if len(partials) != len(out.Batch.Items) {
		t.Fatalf("partials = %d, batch = %d", len(partials), len(out.Batch.Items))
	}
	if out.Batch.Dir == "" {
		t.Fatal("batch dir is empty")
	}
}

func TestImageboardSkipsVideosWhenAsked(t *testing.T) {
	srv := boardServer(t)
	r := testRunner(nil)

	out := r.ExecuteURL(context.Background(), "imageboard", srv.URL+"/thread/42",
		map[string]any{"include_videos": false})
	if out.Err != nil {
		t.Fatalf("run failed: %v", out.Err)
	}
	for _, it := range out.Batch.Items {
		if it.Kind == emit.KindVideo {
			t.Fatalf("video item %s survived include_videos=false", it.Filename)
		}
	}
	if n := len(out.Batch.Items); n != 2 {
		t.Fatalf("items = %d, want 2", n)
	}
}

func TestImageboardMaxItems(t *testing.T) {
	srv := boardServer(t)
	r := testRunner(nil)

	out := r.ExecuteURL(context.Background(), "imageboard", srv.URL+"/thread/42",
		map[string]any{"max_items": 1})
	if out.Err != nil {
		t.Fatalf("run failed: %v", out.Err)
	}
	if n := len(out.Batch.Items); n != 1 {
		t.Fatalf("items = %d, want 1", n)
	}
}

func TestImageboardDomains(t *testing.T) {
	s, ok := runtime.Get("imageboard")
	if !ok {
		t.Fatal("imageboard not registered")
	}
	if !s.Meta.SupportsURL("https://boards.imgboard.example/thread/1") {
		t.Fatal("subdomain should match")
	}
	if s.Meta.SupportsURL("https://imgboard.example.evil.com/x") {
		t.Fatal("suffix spoof should not match")
	}
}
