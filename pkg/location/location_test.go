package location

import (
	"testing"

	"jepcobird/pkg/trigger"
)

func TestDefaultCities(t *testing.T) {
	t.Parallel()

	resolver := DefaultCities()
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{text: "東京の天気は？", want: Tokyo, ok: true},
		{text: "渋谷", want: Tokyo, ok: true},
		{text: "東京都", want: Tokyo, ok: true},
		{text: "横浜の天気教えて", want: Yokohama, ok: true},
		{text: "明日の大阪", want: Osaka, ok: true},
		{text: "京都", want: Kyoto, ok: true},
		{text: "名古屋", want: Nagoya, ok: true},
		{text: "那覇", want: Naha, ok: true},
		{text: "what's the weather in Osaka", want: Osaka, ok: true},
		{text: "Shibuya please", want: Tokyo, ok: true},
		{text: "Atlantis", ok: false},
		{text: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, ok := resolver.Resolve(tt.text)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Resolve(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFirstMappingWins(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(
		Mapping{Key: "first", Patterns: []trigger.Pattern{trigger.Literal("port")}},
		Mapping{Key: "second", Patterns: []trigger.Pattern{trigger.Literal("portland")}},
	)

	if got, _ := resolver.Resolve("portland"); got != "first" {
		t.Fatalf("Resolve = %q, want first", got)
	}
	if resolver.Len() != 2 {
		t.Fatalf("Len = %d, want 2", resolver.Len())
	}
}

func TestNilResolverIsUnresolved(t *testing.T) {
	t.Parallel()

	var resolver *Resolver
	if _, ok := resolver.Resolve("東京"); ok {
		t.Fatal("expected nil resolver to resolve nothing")
	}
}
