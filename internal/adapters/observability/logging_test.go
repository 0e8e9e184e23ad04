package observability

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger_Level(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := NewLogger("prod", in, "api").GetLevel(); got != want {
			t.Fatalf("level %q: got %v want %v", in, got, want)
		}
	}
}
