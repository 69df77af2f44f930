package runtime

import "testing"

func TestSupportsURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		domains []string
		url     string
		want    bool
	}{
		{[]string{"example.com"}, "http://example.com/a", true},
		{[]string{"example.com"}, "http://news.example.com/a", true},
		{[]string{"example.com"}, "http://notexample.com/a", false},
		{[]string{"*.example.com"}, "http://example.com/a", true},
		{[]string{"*.example.com"}, "http://img.example.com/a", true},
		{[]string{"*.example.com"}, "http://example.org/a", false},
		{[]string{"https://example.com/gallery"}, "http://example.com/x", true},
		{[]string{"https://example.com/gallery"}, "http://sub.example.com/x", false},
		{[]string{"EXAMPLE.com"}, "http://Example.COM/a", true},
		{[]string{"a.test", "b.test"}, "http://b.test/", true},
		{nil, "http://example.com/", false},
		{[]string{"example.com"}, "::not a url::", false},
		{[]string{"example.com"}, "/relative/path", false},
		{[]string{""}, "http://example.com/", false},
	}
	for _, tc := range cases {
		m := Metadata{Name: "x", Domains: tc.domains}
		if got := m.SupportsURL(tc.url); got != tc.want {
			t.Fatalf("SupportsURL(%v, %q): expected %v, got %v", tc.domains, tc.url, tc.want, got)
		}
	}
}
