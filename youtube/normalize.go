package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/lbmaian/chat-downloader/chat"
	"github.com/lbmaian/chat-downloader/logging"
)

type rendererClass int

const (
	classUnknown rendererClass = iota
	classIgnore
	classMessage
	classSuperchat
)

// rendererClasses drives filtering. Ignore-class renderers are UI noise
// (engagement banners, placeholders, mode changes); renderers absent from
// this map are parsed generically and never filtered out.
var rendererClasses = map[string]rendererClass{
	"liveChatViewerEngagementMessageRenderer": classIgnore,
	"liveChatPurchasedProductMessageRenderer": classIgnore,
	"liveChatPlaceholderItemRenderer":         classIgnore,
	"liveChatModeChangeMessageRenderer":       classIgnore,

	"liveChatTextMessageRenderer": classMessage,

	"liveChatMembershipItemRenderer":        classSuperchat,
	"liveChatPaidMessageRenderer":           classSuperchat,
	"liveChatPaidStickerRenderer":           classSuperchat,
	"liveChatTickerPaidStickerItemRenderer": classSuperchat,
	"liveChatTickerPaidMessageItemRenderer": classSuperchat,
	"liveChatTickerSponsorItemRenderer":     classSuperchat,
}

// keyRemap projects renderer payload keys onto record keys. Payload keys
// not listed here are dropped.
var keyRemap = map[string]string{
	"timestampUsec":           chat.KeyTimestamp,
	"authorExternalChannelId": chat.KeyAuthorID,
	"authorName":              chat.KeyAuthor,
	"message":                 chat.KeyMessage,
	"timestampText":           chat.KeyTimeText,
	"purchaseAmountText":      chat.KeyAmount,
	"headerBackgroundColor":   chat.KeyHeaderColor,
	"bodyBackgroundColor":     chat.KeyBodyColor,
	"amount":                  chat.KeyAmount,
	"startBackgroundColor":    chat.KeyBodyColor,
	"durationSec":             chat.KeyTickerDuration,
	"detailText":              chat.KeyMessage,
	"headerPrimaryText":       chat.KeyHeaderPrimaryText,
	"headerSubtext":           chat.KeyHeaderSubtext,
	"sticker":                 chat.KeySticker,
	"backgroundColor":         chat.KeyBodyColor,
}

// authorRank orders badge-derived author types so that the most privileged
// badge wins when several are present.
var authorRank = map[string]int{
	"":          0,
	"VERIFIED":  1,
	"MEMBER":    2,
	"MODERATOR": 3,
	"OWNER":     4,
}

// parseItem turns one renderer wrapper ({"liveChat...Renderer": {...}}) into
// a record. Ignore-class and malformed items return a nil record.
func parseItem(item map[string]any, logger *slog.Logger) (chat.Record, rendererClass) {
	rendererType, payload := singleRenderer(item)
	if payload == nil {
		return nil, classUnknown
	}
	class, known := rendererClasses[rendererType]
	if !known {
		logger.Warn("unrecognized renderer type", "renderer", rendererType)
	}
	if class == classIgnore {
		return nil, classIgnore
	}

	rec := chat.Record{}
	for key, value := range payload {
		if key == "authorBadges" {
			applyBadges(rec, value)
			continue
		}
		target, ok := keyRemap[key]
		if !ok {
			continue
		}
		applyValue(rec, target, value, logger)
	}

	// Ticker items point at the renderer they summarize. Merge it in
	// underneath: the ticker's own keys win, except that a message text the
	// inner renderer already produced is kept.
	if inner := innerRenderer(payload); inner != nil {
		if innerRec, _ := parseItem(inner, logger); innerRec != nil {
			merged := chat.Record{}
			for k, v := range innerRec {
				merged[k] = v
			}
			for k, v := range rec {
				if k == chat.KeyMessage {
					if _, ok := merged[chat.KeyMessage]; ok {
						continue
					}
				}
				merged[k] = v
			}
			rec = merged
		}
	}

	finalizeMessage(rec, item, logger)
	return rec, class
}

// singleRenderer unwraps the single-key {"<rendererType>": {payload}} shape.
func singleRenderer(item map[string]any) (string, map[string]any) {
	for key, value := range item {
		if payload, ok := value.(map[string]any); ok {
			return key, payload
		}
	}
	return "", nil
}

func innerRenderer(payload map[string]any) map[string]any {
	ep, ok := payload["showItemEndpoint"].(map[string]any)
	if !ok {
		return nil
	}
	show, ok := ep["showLiveChatItemEndpoint"].(map[string]any)
	if !ok {
		return nil
	}
	r, ok := show["renderer"].(map[string]any)
	if !ok {
		return nil
	}
	return r
}

func applyValue(rec chat.Record, target string, value any, logger *slog.Logger) {
	switch target {
	case chat.KeyTimestamp:
		if us, ok := toInt64(value); ok {
			rec[chat.KeyTimestamp] = us
			rec[chat.KeyDatetime] = chat.MicrosToDatetime(us)
		}
	case chat.KeyTimeText:
		s, ok := textString(value)
		if !ok {
			return
		}
		rec[chat.KeyTimeText] = s
		if secs, err := chat.TimeToSeconds(s); err == nil {
			rec[chat.KeyTimeSeconds] = secs
		} else {
			logger.Warn("unparseable timestamp text", "value", s)
		}
	case chat.KeyTickerDuration:
		if n, ok := toInt64(value); ok {
			rec[chat.KeyTickerDuration] = n
		}
	case chat.KeyHeaderColor, chat.KeyBodyColor:
		if n, ok := toInt64(value); ok {
			rec[target] = chat.ColorFromARGB(n)
		}
	default:
		if s, ok := textString(value); ok {
			rec[target] = s
		} else {
			rec[target] = value
		}
	}
}

// applyBadges joins badge tooltips and derives the author type from badge
// icons. A custom thumbnail badge with no icon is a membership badge.
func applyBadges(rec chat.Record, value any) {
	list, ok := value.([]any)
	if !ok {
		return
	}
	var names []string
	best := ""
	for _, b := range list {
		bm, ok := b.(map[string]any)
		if !ok {
			continue
		}
		br, ok := bm["liveChatAuthorBadgeRenderer"].(map[string]any)
		if !ok {
			continue
		}
		if tip, ok := br["tooltip"].(string); ok {
			names = append(names, tip)
		}
		kind := ""
		if icon, ok := digString(br, "icon", "iconType"); ok {
			kind = icon
		} else if _, ok := br["customThumbnail"]; ok {
			kind = "MEMBER"
		}
		if authorRank[kind] >= authorRank[best] {
			best = kind
		}
	}
	rec[chat.KeyBadges] = strings.Join(names, ", ")
	rec[chat.KeyAuthorType] = best
}

// finalizeMessage settles the record's message key from the text sources the
// renderer carried, consuming the header and sticker keys it folds in.
func finalizeMessage(rec chat.Record, item map[string]any, logger *slog.Logger) {
	rawMsg, hasMsgKey := rec[chat.KeyMessage]
	msg, _ := rawMsg.(string)
	hp, hasHP := rec[chat.KeyHeaderPrimaryText].(string)
	hs, hasHS := rec[chat.KeyHeaderSubtext].(string)
	st, hasSt := rec[chat.KeySticker].(string)
	_, hasAmount := rec[chat.KeyAmount]

	switch {
	case hasHP:
		text := hp
		if hasHS {
			text += fmt.Sprintf(" (%s)", hs)
		}
		if msg != "" {
			text += ": " + msg
		}
		delete(rec, chat.KeyHeaderPrimaryText)
		delete(rec, chat.KeyHeaderSubtext)
		rec[chat.KeyMessage] = text
	case hasHS:
		delete(rec, chat.KeyHeaderSubtext)
		rec[chat.KeyMessage] = hs
	case hasSt:
		text := "<<" + st + ">>"
		if msg != "" {
			text += ": " + msg
		}
		delete(rec, chat.KeySticker)
		rec[chat.KeyMessage] = text
	case hasAmount:
		if msg != "" {
			rec[chat.KeyMessage] = msg
		} else {
			rec[chat.KeyMessage] = "<<no message>>"
		}
	case hasMsgKey:
		// Plain chat message, already flattened.
	default:
		logger.Warn("no message text in renderer")
		if logger.Enabled(context.Background(), logging.LevelTrace) {
			if b, err := json.Marshal(item); err == nil {
				logger.Log(context.Background(), logging.LevelTrace, "offending item", "item", string(b))
			}
		}
		rec[chat.KeyMessage] = nil
	}
}

// textString extracts display text from the shapes the service uses: a bare
// string, {"simpleText": s}, {"runs": [...]}, or a sticker's accessibility
// label.
func textString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case map[string]any:
		if s, ok := t["simpleText"].(string); ok {
			return s, true
		}
		if runs, ok := t["runs"].([]any); ok {
			return flattenRuns(runs), true
		}
		if label, ok := digString(t, "accessibility", "accessibilityData", "label"); ok {
			return label, true
		}
	}
	return "", false
}

// flattenRuns concatenates message runs. Text runs whose display text is an
// elided link are replaced by the full target URL; emoji runs render as
// their first shortcut, falling back to the emoji id.
func flattenRuns(runs []any) string {
	var b strings.Builder
	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := run["text"].(string); ok {
			if u := runLink(run); u != "" && looksLikeLink(text) {
				b.WriteString(u)
			} else {
				b.WriteString(text)
			}
			continue
		}
		if emoji, ok := run["emoji"].(map[string]any); ok {
			b.WriteString(emojiShortcut(emoji))
		}
	}
	return b.String()
}

func emojiShortcut(emoji map[string]any) string {
	if shortcuts, ok := emoji["shortcuts"].([]any); ok && len(shortcuts) > 0 {
		if s, ok := shortcuts[0].(string); ok {
			return s
		}
	}
	if id, ok := emoji["emojiId"].(string); ok {
		return id
	}
	return ""
}

func runLink(run map[string]any) string {
	nav, ok := run["navigationEndpoint"].(map[string]any)
	if !ok {
		return ""
	}
	if u, ok := digString(nav, "urlEndpoint", "url"); ok {
		return normalizeLink(u)
	}
	if u, ok := digString(nav, "commandMetadata", "webCommandMetadata", "url"); ok {
		return normalizeLink(u)
	}
	return ""
}

func looksLikeLink(text string) bool {
	return strings.HasPrefix(text, "http://") ||
		strings.HasPrefix(text, "https://") ||
		strings.HasPrefix(text, "www.")
}

// normalizeLink resolves the service's internal link forms: /redirect
// wrappers carry the real target in the q parameter, protocol-relative and
// site-relative paths become absolute https URLs.
func normalizeLink(link string) string {
	if strings.HasPrefix(link, "/redirect") {
		if u, err := url.Parse(link); err == nil {
			if q := u.Query().Get("q"); q != "" {
				return q
			}
		}
		return link
	}
	if strings.HasPrefix(link, "//") {
		return "https:" + link
	}
	if strings.HasPrefix(link, "/") {
		return homepage + link
	}
	return link
}

func digString(m map[string]any, keys ...string) (string, bool) {
	cur := any(m)
	for _, k := range keys {
		mm, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur = mm[k]
	}
	s, ok := cur.(string)
	return s, ok
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
