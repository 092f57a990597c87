package youtube

import (
	"io"
	"log/slog"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/lbmaian/chat-downloader/chat"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeItem(t *testing.T, raw string) map[string]any {
	t.Helper()
	var item map[string]any
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		t.Fatalf("bad test item: %v", err)
	}
	return item
}

func TestParseItemTextMessage(t *testing.T) {
	item := decodeItem(t, `{"liveChatTextMessageRenderer": {
		"message": {"runs": [{"text": "hello "}, {"emoji": {"emojiId": "UC/x", "shortcuts": [":fish:", ":f:"]}}]},
		"authorName": {"simpleText": "ada"},
		"authorExternalChannelId": "UC123",
		"timestampUsec": "1600000000000000",
		"timestampText": {"simpleText": "0:05"},
		"id": "msg-id-ignored"
	}}`)

	rec, class := parseItem(item, quietLogger())
	if class != classMessage {
		t.Fatalf("class = %v, want classMessage", class)
	}
	if got := rec[chat.KeyMessage]; got != "hello :fish:" {
		t.Errorf("message = %v, want %q", got, "hello :fish:")
	}
	if got := rec[chat.KeyAuthor]; got != "ada" {
		t.Errorf("author = %v, want ada", got)
	}
	if got := rec[chat.KeyAuthorID]; got != "UC123" {
		t.Errorf("author_id = %v, want UC123", got)
	}
	if got := rec[chat.KeyTimestamp]; got != int64(1600000000000000) {
		t.Errorf("timestamp = %v, want 1600000000000000", got)
	}
	if got := rec[chat.KeyDatetime]; got != chat.MicrosToDatetime(1600000000000000) {
		t.Errorf("datetime = %v, want %v", got, chat.MicrosToDatetime(1600000000000000))
	}
	if got := rec[chat.KeyTimeText]; got != "0:05" {
		t.Errorf("time_text = %v, want 0:05", got)
	}
	if got := rec[chat.KeyTimeSeconds]; got != int64(5) {
		t.Errorf("time_in_seconds = %v, want 5", got)
	}
	if _, ok := rec["id"]; ok {
		t.Error("unmapped payload key leaked into record")
	}
	if rec.IsTicker() {
		t.Error("IsTicker = true for a text message")
	}
}

func TestParseItemIgnoredRenderers(t *testing.T) {
	for _, renderer := range []string{
		"liveChatViewerEngagementMessageRenderer",
		"liveChatPurchasedProductMessageRenderer",
		"liveChatPlaceholderItemRenderer",
		"liveChatModeChangeMessageRenderer",
	} {
		item := decodeItem(t, `{"`+renderer+`": {"id": "x"}}`)
		rec, class := parseItem(item, quietLogger())
		if rec != nil || class != classIgnore {
			t.Errorf("parseItem(%s) = %v, %v, want nil, classIgnore", renderer, rec, class)
		}
	}
}

func TestParseItemUnknownRendererParsesGenerically(t *testing.T) {
	item := decodeItem(t, `{"liveChatBrandNewRenderer": {
		"message": {"runs": [{"text": "novel"}]},
		"authorName": {"simpleText": "zoe"}
	}}`)
	rec, class := parseItem(item, quietLogger())
	if class != classUnknown {
		t.Fatalf("class = %v, want classUnknown", class)
	}
	if rec[chat.KeyMessage] != "novel" || rec[chat.KeyAuthor] != "zoe" {
		t.Errorf("record = %v, want generic parse", rec)
	}
}

func TestParseItemPaidMessage(t *testing.T) {
	item := decodeItem(t, `{"liveChatPaidMessageRenderer": {
		"purchaseAmountText": {"simpleText": "$5.00"},
		"headerBackgroundColor": 4278239141,
		"bodyBackgroundColor": 4280150454,
		"message": {"runs": [{"text": "nice"}]},
		"authorName": {"simpleText": "bob"}
	}}`)

	rec, class := parseItem(item, quietLogger())
	if class != classSuperchat {
		t.Fatalf("class = %v, want classSuperchat", class)
	}
	if rec[chat.KeyAmount] != "$5.00" {
		t.Errorf("amount = %v, want $5.00", rec[chat.KeyAmount])
	}
	if rec[chat.KeyMessage] != "nice" {
		t.Errorf("message = %v, want nice", rec[chat.KeyMessage])
	}
	header, ok := rec[chat.KeyHeaderColor].(map[string]any)
	if !ok {
		t.Fatalf("header_color = %T, want map", rec[chat.KeyHeaderColor])
	}
	if header["hex"] != chat.ColorFromARGB(4278239141)["hex"] {
		t.Errorf("header_color hex = %v, want %v", header["hex"], chat.ColorFromARGB(4278239141)["hex"])
	}
}

func TestParseItemPaidMessageWithoutText(t *testing.T) {
	item := decodeItem(t, `{"liveChatPaidMessageRenderer": {
		"purchaseAmountText": {"simpleText": "$1.00"},
		"authorName": {"simpleText": "quiet"}
	}}`)
	rec, _ := parseItem(item, quietLogger())
	if rec[chat.KeyMessage] != "<<no message>>" {
		t.Errorf("message = %v, want <<no message>>", rec[chat.KeyMessage])
	}
}

func TestParseItemMembershipHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"primary with subtext and message",
			`{"liveChatMembershipItemRenderer": {
				"headerPrimaryText": {"runs": [{"text": "Member for 6 months"}]},
				"headerSubtext": {"simpleText": "Gold"},
				"message": {"runs": [{"text": "hi all"}]}
			}}`,
			"Member for 6 months (Gold): hi all",
		},
		{
			"primary alone",
			`{"liveChatMembershipItemRenderer": {
				"headerPrimaryText": {"runs": [{"text": "Member for 1 month"}]}
			}}`,
			"Member for 1 month",
		},
		{
			"subtext alone discards raw message",
			`{"liveChatMembershipItemRenderer": {
				"headerSubtext": {"runs": [{"text": "Welcome aboard!"}]},
				"message": {"runs": [{"text": "ignored"}]}
			}}`,
			"Welcome aboard!",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, class := parseItem(decodeItem(t, tt.raw), quietLogger())
			if class != classSuperchat {
				t.Fatalf("class = %v, want classSuperchat", class)
			}
			if rec[chat.KeyMessage] != tt.want {
				t.Errorf("message = %v, want %q", rec[chat.KeyMessage], tt.want)
			}
			if _, ok := rec[chat.KeyHeaderPrimaryText]; ok {
				t.Error("header_primary_text not consumed")
			}
			if _, ok := rec[chat.KeyHeaderSubtext]; ok {
				t.Error("header_subtext not consumed")
			}
		})
	}
}

func TestParseItemSticker(t *testing.T) {
	item := decodeItem(t, `{"liveChatPaidStickerRenderer": {
		"sticker": {"accessibility": {"accessibilityData": {"label": "cat dancing"}}},
		"purchaseAmountText": {"simpleText": "$2.00"},
		"backgroundColor": 4294947584
	}}`)
	rec, _ := parseItem(item, quietLogger())
	if rec[chat.KeyMessage] != "<<cat dancing>>" {
		t.Errorf("message = %v, want <<cat dancing>>", rec[chat.KeyMessage])
	}
	if _, ok := rec[chat.KeySticker]; ok {
		t.Error("sticker key not consumed")
	}
	if _, ok := rec[chat.KeyBodyColor]; !ok {
		t.Error("backgroundColor did not map to body_color")
	}
}

func TestParseItemTickerMerge(t *testing.T) {
	item := decodeItem(t, `{"liveChatTickerPaidMessageItemRenderer": {
		"amount": {"simpleText": "$10.00"},
		"startBackgroundColor": 4294947584,
		"durationSec": "120",
		"authorExternalChannelId": "UCouter",
		"showItemEndpoint": {"showLiveChatItemEndpoint": {"renderer": {
			"liveChatPaidMessageRenderer": {
				"message": {"runs": [{"text": "inner text"}]},
				"authorName": {"simpleText": "carol"},
				"purchaseAmountText": {"simpleText": "$9.99"},
				"timestampUsec": "1600000001000000"
			}
		}}}
	}}`)

	rec, class := parseItem(item, quietLogger())
	if class != classSuperchat {
		t.Fatalf("class = %v, want classSuperchat", class)
	}
	if rec[chat.KeyMessage] != "inner text" {
		t.Errorf("message = %v, want inner text (inner renderer wins)", rec[chat.KeyMessage])
	}
	if rec[chat.KeyAmount] != "$10.00" {
		t.Errorf("amount = %v, want $10.00 (ticker wins)", rec[chat.KeyAmount])
	}
	if rec[chat.KeyAuthor] != "carol" {
		t.Errorf("author = %v, want carol (from inner renderer)", rec[chat.KeyAuthor])
	}
	if rec[chat.KeyAuthorID] != "UCouter" {
		t.Errorf("author_id = %v, want UCouter (ticker wins)", rec[chat.KeyAuthorID])
	}
	if rec[chat.KeyTickerDuration] != int64(120) {
		t.Errorf("ticker_duration = %v, want 120", rec[chat.KeyTickerDuration])
	}
	if !rec.IsTicker() {
		t.Error("IsTicker = false, want true")
	}
}

func TestApplyBadges(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantType   string
		wantBadges string
	}{
		{
			"owner beats moderator",
			`[{"liveChatAuthorBadgeRenderer": {"tooltip": "Moderator", "icon": {"iconType": "MODERATOR"}}},
			 {"liveChatAuthorBadgeRenderer": {"tooltip": "Owner", "icon": {"iconType": "OWNER"}}}]`,
			"OWNER", "Moderator, Owner",
		},
		{
			"moderator beats member thumbnail",
			`[{"liveChatAuthorBadgeRenderer": {"tooltip": "Moderator", "icon": {"iconType": "MODERATOR"}}},
			 {"liveChatAuthorBadgeRenderer": {"tooltip": "Member (1 year)", "customThumbnail": {"thumbnails": []}}}]`,
			"MODERATOR", "Moderator, Member (1 year)",
		},
		{
			"custom thumbnail alone is member",
			`[{"liveChatAuthorBadgeRenderer": {"tooltip": "New member", "customThumbnail": {"thumbnails": []}}}]`,
			"MEMBER", "New member",
		},
		{
			"verified",
			`[{"liveChatAuthorBadgeRenderer": {"tooltip": "Verified", "icon": {"iconType": "VERIFIED"}}}]`,
			"VERIFIED", "Verified",
		},
		{
			"later equal rank wins",
			`[{"liveChatAuthorBadgeRenderer": {"tooltip": "A", "icon": {"iconType": "MODERATOR"}}},
			 {"liveChatAuthorBadgeRenderer": {"tooltip": "B", "icon": {"iconType": "MODERATOR"}}}]`,
			"MODERATOR", "A, B",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var badges []any
			if err := json.Unmarshal([]byte(tt.raw), &badges); err != nil {
				t.Fatalf("bad test badges: %v", err)
			}
			rec := chat.Record{}
			applyBadges(rec, badges)
			if rec[chat.KeyAuthorType] != tt.wantType {
				t.Errorf("author_type = %v, want %v", rec[chat.KeyAuthorType], tt.wantType)
			}
			if rec[chat.KeyBadges] != tt.wantBadges {
				t.Errorf("badges = %v, want %v", rec[chat.KeyBadges], tt.wantBadges)
			}
		})
	}
}

func TestFlattenRunsLinks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"redirect wrapper unescaped",
			`[{"text": "https://example.com/p...", "navigationEndpoint": {"commandMetadata":
				{"webCommandMetadata": {"url": "/redirect?event=c&q=https%3A%2F%2Fexample.com%2Fpage%3Fa%3D1"}}}}]`,
			"https://example.com/page?a=1",
		},
		{
			"protocol relative",
			`[{"text": "www.example.com", "navigationEndpoint": {"urlEndpoint": {"url": "//example.com/x"}}}]`,
			"https://example.com/x",
		},
		{
			"site relative",
			`[{"text": "https://www.youtube.com/wa...", "navigationEndpoint": {"commandMetadata":
				{"webCommandMetadata": {"url": "/watch?v=dQw4w9WgXcQ"}}}}]`,
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			"non-link text keeps its display form",
			`[{"text": "@somebody", "navigationEndpoint": {"commandMetadata":
				{"webCommandMetadata": {"url": "/channel/UC1"}}}}]`,
			"@somebody",
		},
		{
			"emoji falls back to id",
			`[{"emoji": {"emojiId": "yt/fire"}}]`,
			"yt/fire",
		},
		{
			"mixed text and emoji",
			`[{"text": "go "}, {"emoji": {"shortcuts": [":fire:"], "emojiId": "x"}}, {"text": "!"}]`,
			"go :fire:!",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var runs []any
			if err := json.Unmarshal([]byte(tt.raw), &runs); err != nil {
				t.Fatalf("bad test runs: %v", err)
			}
			if got := flattenRuns(runs); got != tt.want {
				t.Errorf("flattenRuns = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseItemNoTextSources(t *testing.T) {
	item := decodeItem(t, `{"liveChatTextMessageRenderer": {
		"authorName": {"simpleText": "mute"}
	}}`)
	rec, _ := parseItem(item, quietLogger())
	v, ok := rec[chat.KeyMessage]
	if !ok {
		t.Fatal("message key missing, want explicit nil")
	}
	if v != nil {
		t.Errorf("message = %v, want nil", v)
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{"1600000000", 1600000000, true},
		{float64(42), 42, true},
		{int64(7), 7, true},
		{3, 3, true},
		{"not a number", 0, false},
		{nil, 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := toInt64(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("toInt64(%v) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
