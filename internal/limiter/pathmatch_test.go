package limiter

import "testing"

func TestMatchPath(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/users/*", "/api/users/42", true},
		{"/api/users/*", "/api/users/42/profile", false},
		{"/api/**", "/api/users/42/profile", true},
		{"/api/**", "/api", true},
		{"/static/**/*", "/static/vendor/lib/app.js", true},
		{"/static/*", "/static/vendor/lib/app.js", false},
		{"/health", "/health", true},
		{"/health", "/healthz", false},
		{"*", "/anything", true},
		{"**", "/a/b/c", true},
	}
	for _, c := range cases {
		got := MatchPath(c.pattern, c.path)
		if got != c.want {
			t.Errorf("MatchPath(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}
