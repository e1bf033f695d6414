package location

import "jepcobird/pkg/trigger"

// City codes used by the livedoor-compatible forecast API.
const (
	Tokyo    = "130010"
	Yokohama = "140010"
	Osaka    = "270000"
	Kyoto    = "260010"
	Nagoya   = "230010"
	Naha     = "471010"
)

// DefaultCities resolves the city names the bot understands. 東京 is listed
// before 京都 so that "東京都" resolves to Tokyo.
func DefaultCities() *Resolver {
	return NewResolver(
		Mapping{Key: Tokyo, Patterns: []trigger.Pattern{
			trigger.Literal("東京", "港区", "中央区", "新宿", "渋谷", "赤坂"),
			trigger.MustRegex(`(?i)\b(tokyo|minato|chuo|shinjuku|shibuya|akasaka)\b`),
		}},
		Mapping{Key: Yokohama, Patterns: []trigger.Pattern{
			trigger.Literal("神奈川", "横浜"),
			trigger.MustRegex(`(?i)\b(kanagawa|yokohama)\b`),
		}},
		Mapping{Key: Osaka, Patterns: []trigger.Pattern{
			trigger.Literal("大阪"),
			trigger.MustRegex(`(?i)\bosaka\b`),
		}},
		Mapping{Key: Kyoto, Patterns: []trigger.Pattern{
			trigger.Literal("京都"),
			trigger.MustRegex(`(?i)\bkyoto\b`),
		}},
		Mapping{Key: Nagoya, Patterns: []trigger.Pattern{
			trigger.Literal("愛知", "名古屋"),
			trigger.MustRegex(`(?i)\b(aichi|nagoya)\b`),
		}},
		Mapping{Key: Naha, Patterns: []trigger.Pattern{
			trigger.Literal("沖縄", "那覇"),
			trigger.MustRegex(`(?i)\b(okinawa|naha)\b`),
		}},
	)
}
