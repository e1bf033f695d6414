package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/dialogue"
	"jepcobird/pkg/location"
	"jepcobird/pkg/profile"
	"jepcobird/pkg/router"
	"jepcobird/pkg/trigger"
	"jepcobird/pkg/weather"
)

type recordingSender struct {
	mu  sync.Mutex
	out []bus.OutboundMessage
}

func (s *recordingSender) Send(_ context.Context, msg bus.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, msg)
	return nil
}

func (s *recordingSender) messages() []bus.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bus.OutboundMessage, len(s.out))
	copy(out, s.out)
	return out
}

func (s *recordingSender) texts() []string {
	var texts []string
	for _, msg := range s.messages() {
		if msg.Content != "" {
			texts = append(texts, msg.Content)
		}
	}
	return texts
}

type fakeForecaster struct {
	mu      sync.Mutex
	err     error
	cities  []string
	offsets []int
}

func (f *fakeForecaster) Forecast(_ context.Context, city string, offset int) (weather.Forecast, weather.Day, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cities = append(f.cities, city)
	f.offsets = append(f.offsets, offset)
	if f.err != nil {
		return weather.Forecast{}, weather.Day{}, f.err
	}

	forecast := weather.Forecast{
		Title:       "天気予報",
		Description: "晴れるでしょう。",
		Link:        "https://example.com/" + city,
		Days: []weather.Day{
			{Label: "今日", Telop: "晴れ", ImageURL: "https://img.example.com/0.svg"},
			{Label: "明日", Telop: "曇り", ImageURL: "https://img.example.com/1.svg"},
		},
	}
	day, err := forecast.Day(offset)
	return forecast, day, err
}

type harness struct {
	bot      *Bot
	router   *router.Router
	engine   *dialogue.Engine
	sender   *recordingSender
	profiles *profile.MemoryStore
	weather  *fakeForecaster
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	sender := &recordingSender{}
	engine := dialogue.NewEngine(sender, dialogue.WithTimeout(0))
	profiles := profile.NewMemoryStore()
	forecaster := &fakeForecaster{}

	b, err := New("jepcobird", Deps{
		Sender:   sender,
		Engine:   engine,
		Profiles: profiles,
		Weather:  forecaster,
		Cities:   location.DefaultCities(),
	}, opts...)
	require.NoError(t, err)

	rt := router.New(engine)
	b.Register(rt)

	t.Cleanup(engine.Close)
	return &harness{bot: b, router: rt, engine: engine, sender: sender, profiles: profiles, weather: forecaster}
}

func (h *harness) say(t *testing.T, scope trigger.Scope, text string) router.Outcome {
	t.Helper()

	outcome, err := h.router.Route(context.Background(), bus.InboundMessage{
		Channel:   "telegram",
		ChatID:    "100",
		SenderID:  "alice",
		MessageID: "m-1",
		Content:   text,
		Scope:     scope,
	})
	require.NoError(t, err)
	return outcome
}

func TestRegisterOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.Equal(t, []string{
		"sushi", "weather", "mentioned", "introduce", "hello",
		"call_me", "who_am_i", "shutdown", "uptime",
	}, h.router.Rules())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	engine := dialogue.NewEngine(sender)
	defer engine.Close()

	_, err := New("", Deps{Engine: engine, Profiles: profile.NewMemoryStore()})
	require.Error(t, err)
	_, err = New("", Deps{Sender: sender, Profiles: profile.NewMemoryStore()})
	require.Error(t, err)
	_, err = New("", Deps{Sender: sender, Engine: engine})
	require.Error(t, err)

	b, err := New("", Deps{Sender: sender, Engine: engine, Profiles: profile.NewMemoryStore()})
	require.NoError(t, err)
	require.Equal(t, DefaultName, b.name)
	require.NotNil(t, b.cities)
}

func TestHelloWithoutProfile(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.Equal(t, router.OutcomeHandled, h.say(t, trigger.DirectMessage, "hello"))

	out := h.sender.messages()
	require.Len(t, out, 2)
	require.Equal(t, greetingReaction, out[0].Reaction)
	require.Equal(t, "m-1", out[0].ReplyToID)
	require.Equal(t, "Hello.", out[1].Content)
	require.Equal(t, "100", out[1].ChatID)
}

func TestCallMeThenWhoAmI(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say(t, trigger.DirectMessage, "call me Koharu")
	h.say(t, trigger.DirectMessage, "who am i")
	h.say(t, trigger.DirectMention, "hi")

	require.Equal(t, []string{
		"Got it. I will call you Koharu from now on.",
		"Your name is Koharu",
		"Hello Koharu!!",
	}, h.sender.texts())
	require.Zero(t, h.engine.Len())

	record, err := h.profiles.Get(context.Background(), "telegram:alice")
	require.NoError(t, err)
	require.Equal(t, "Koharu", record.Name)
}

func TestWhoAmIDialogueSavesConfirmedName(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say(t, trigger.DirectMessage, "who am i")
	require.True(t, h.engine.Active("telegram:100:alice"))

	require.Equal(t, router.OutcomeConversation, h.say(t, trigger.DirectMessage, "Hana"))
	require.Equal(t, router.OutcomeConversation, h.say(t, trigger.DirectMessage, "maybe"))
	require.Equal(t, router.OutcomeConversation, h.say(t, trigger.DirectMessage, "yes"))

	require.Equal(t, []string{
		"I do not know your name yet!",
		"What should I call you?",
		"You want me to call you `Hana`?",
		"You want me to call you `Hana`?",
		"OK! I will update my dossier...",
		"Got it. I will call you Hana from now on.",
	}, h.sender.texts())
	require.False(t, h.engine.Active("telegram:100:alice"))

	name, err := profile.Name(context.Background(), h.profiles, "telegram:alice")
	require.NoError(t, err)
	require.Equal(t, "Hana", name)
}

func TestWhoAmIDialogueDeclined(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say(t, trigger.DirectMessage, "what is my name")
	h.say(t, trigger.DirectMessage, "Hana")
	h.say(t, trigger.DirectMessage, "no")

	texts := h.sender.texts()
	require.Equal(t, "OK, nevermind!", texts[len(texts)-1])

	_, err := h.profiles.Get(context.Background(), "telegram:alice")
	require.ErrorIs(t, err, profile.ErrNotFound)
}

func TestWeatherUnknownPlaceStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say(t, trigger.DirectMessage, "what's the weather")
	require.True(t, h.engine.Active("telegram:100:alice"))

	h.say(t, trigger.DirectMessage, "ムー大陸")
	h.bot.Wait()

	require.Equal(t, []string{replyWhere, replyUnknownPlace}, h.sender.texts())
	require.False(t, h.engine.Active("telegram:100:alice"))
	require.Empty(t, h.weather.cities)
}

func TestWeatherDialogueResolvesReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say(t, trigger.DirectMention, "明日の天気教えて")
	h.say(t, trigger.DirectMention, "横浜")
	h.bot.Wait()

	require.Equal(t, []string{replyWhere, "明日の天気予報は曇りだってさ。"}, h.sender.texts())
	require.Equal(t, []string{location.Yokohama}, h.weather.cities)
	require.Equal(t, []int{1}, h.weather.offsets)
}

func TestWeatherKnownCityRepliesWithAttachment(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say(t, trigger.DirectMessage, "東京の天気は？")
	h.bot.Wait()

	out := h.sender.messages()
	require.Len(t, out, 1)
	require.Equal(t, "今日の天気予報は晴れだってさ。", out[0].Content)
	require.Len(t, out[0].Attachments, 1)
	require.Equal(t, "https://example.com/"+location.Tokyo, out[0].Attachments[0].TitleLink)
	require.Equal(t, "https://img.example.com/0.svg", out[0].Attachments[0].ImageURL)
	require.Zero(t, h.engine.Len())
}

func TestWeatherFallbackReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		err  error
		want string
	}{
		{name: "no forecast for day", text: "明後日の大阪の天気わかる？", want: replyNoForecast},
		{name: "lookup failure", text: "京都の天気を教えて", err: errors.New("status 503"), want: replyLookupFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.weather.err = tt.err
			h.say(t, trigger.DirectMessage, tt.text)
			h.bot.Wait()

			require.Equal(t, []string{tt.want}, h.sender.texts())
		})
	}
}

func TestWeatherIgnoredWhenMentionedInPassing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say(t, trigger.Mention, "東京の天気は？")
	h.bot.Wait()

	require.Equal(t, []string{"呼んだ？"}, h.sender.texts())
	require.Empty(t, h.weather.cities)
}

func TestShortReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scope trigger.Scope
		text  string
		want  string
	}{
		{scope: trigger.DirectMessage, text: "寿司", want: "僕も寿司が好きです"},
		{scope: trigger.Mention, text: "SUSHI", want: "僕も寿司が好きです"},
		{scope: trigger.Mention, text: "hello there", want: "呼んだ？"},
		{scope: trigger.DirectMention, text: "自己紹介して", want: "おいらはJepcobirdだお。"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			require.Equal(t, router.OutcomeHandled, h.say(t, tt.scope, tt.text))
			require.Equal(t, []string{tt.want}, h.sender.texts())
		})
	}
}

func TestSelfIntroductionNeedsDirectMention(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.Equal(t, router.OutcomeDropped, h.say(t, trigger.DirectMessage, "自己紹介"))
	require.Empty(t, h.sender.messages())
}

func TestShutdownDeclinedKeepsRunning(t *testing.T) {
	t.Parallel()

	stopped := make(chan struct{})
	h := newHarness(t, WithShutdown(func() { close(stopped) }, 0))

	h.say(t, trigger.DirectMessage, "shutdown")
	h.say(t, trigger.DirectMessage, "no")

	require.Equal(t, []string{"Are you sure you want me to shutdown?", "*Phew!*"}, h.sender.texts())
	require.Zero(t, h.engine.Len())

	select {
	case <-stopped:
		t.Fatal("shutdown hook ran after the user declined")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShutdownConfirmed(t *testing.T) {
	t.Parallel()

	stopped := make(chan struct{})
	h := newHarness(t, WithShutdown(func() { close(stopped) }, 10*time.Millisecond))

	h.say(t, trigger.DirectMention, "shutdown")
	h.say(t, trigger.DirectMention, "yes please")

	require.Equal(t, []string{"Are you sure you want me to shutdown?", "Bye!"}, h.sender.texts())

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("shutdown hook did not run")
	}
}

func TestUptimeReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		WithStartTime(time.Now().Add(-90*time.Second)),
		WithHostname(func() (string, error) { return "testhost", nil }),
	)
	h.say(t, trigger.DirectMessage, "who are you?")

	texts := h.sender.texts()
	require.Len(t, texts, 1)
	require.Equal(t, "🤖 I am a bot named jepcobird. I have been running for 1.5 minutes on testhost.", texts[0])
}

func TestUptimeUnknownHost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, WithHostname(func() (string, error) { return "", fmt.Errorf("no uts") }))
	h.say(t, trigger.DirectMessage, "uptime")

	texts := h.sender.texts()
	require.Len(t, texts, 1)
	require.True(t, strings.HasSuffix(texts[0], "on an unknown host."), texts[0])
}

func TestFormatUptime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: time.Second, want: "1 second"},
		{in: 30 * time.Second, want: "30 seconds"},
		{in: 60 * time.Second, want: "60 seconds"},
		{in: 90 * time.Second, want: "1.5 minutes"},
		{in: time.Hour, want: "60 minutes"},
		{in: 61 * time.Minute, want: "1 hour"},
		{in: 2 * time.Hour, want: "2 hours"},
	}

	for _, tt := range tests {
		if got := FormatUptime(tt.in); got != tt.want {
			t.Fatalf("FormatUptime(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
