package stages

import (
	"testing"
)

func TestExcludePattern(t *testing.T) {
	tests := []struct {
		path     string
		excluded bool
	}{
		{"src/routes/user.js", false},
		{"backend/controllers/auth.js", false},
		{"server/db/models.py", false},
		{"config/.env.sample.js", true},
		{"src/app.test.js", true},
		{"src/app.spec.ts", true},
		{"src/__tests__/user.js", true},
		{"tests/integration.py", true},
		{"README.md", true},
		{"docs/setup.md", true},
		{"assets/logo.png", true},
		{"public/favicon.ico", true},
		{"yarn.lock", true},
		{"package-lock.json", true},
		{"dist/bundle.js.map", true},
		{"styles/main.css", true},
		{"styles/theme.scss", true},
		{"fixtures/users.json", true},
		{"server.log", true},
	}
	for _, tt := range tests {
		if got := excludePattern.MatchString("/" + tt.path); got != tt.excluded {
			t.Errorf("excludePattern(%q) = %v, want %v", tt.path, got, tt.excluded)
		}
	}
}
