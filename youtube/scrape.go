package youtube

import (
	"bytes"
	"regexp"

	json "github.com/goccy/go-json"
)

// The watch and live_chat pages embed their data as JavaScript assignments.
// Each anchor matches up to and including the opening brace of the object
// literal; the object itself is decoded as exactly one JSON value so that
// whatever trails it (`});`, more script) never matters.
var (
	ytcfgAnchor = regexp.MustCompile(`\bytcfg\s*\.\s*set\(\s*\{`)

	playerResponseAnchor = regexp.MustCompile(`\bytInitialPlayerResponse\s*=\s*\{`)

	initialDataAnchor = regexp.MustCompile(`(?:\bwindow\s*\[\s*["']ytInitialData["']\s*\]|\bytInitialData)\s*=\s*\{`)
)

// errorPageSentinel shows up in transient 200-status error shells that are
// worth one immediate re-fetch.
var errorPageSentinel = []byte("window.ERROR_PAGE")

func extractObject(html []byte, anchor *regexp.Regexp) (json.RawMessage, bool) {
	loc := anchor.FindIndex(html)
	if loc == nil {
		return nil, false
	}
	// The anchor's last byte is the opening brace.
	var raw json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(html[loc[1]-1:]))
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	return raw, true
}

func snippet(html []byte) string {
	const n = 200
	if len(html) <= n {
		return string(html)
	}
	return string(html[:n])
}

// playabilityStatus appears in both the player response and heartbeat
// responses, with the scheduled start buried under the offline slate.
type playabilityStatus struct {
	Status            string `json:"status"`
	Reason            string `json:"reason"`
	LiveStreamability *struct {
		LiveStreamabilityRenderer struct {
			OfflineSlate *struct {
				LiveStreamOfflineSlateRenderer struct {
					ScheduledStartTime string `json:"scheduledStartTime"`
				} `json:"liveStreamOfflineSlateRenderer"`
			} `json:"offlineSlate"`
		} `json:"liveStreamabilityRenderer"`
	} `json:"liveStreamability"`
}

func (p *playabilityStatus) scheduledStart() (int64, bool) {
	if p == nil || p.LiveStreamability == nil {
		return 0, false
	}
	slate := p.LiveStreamability.LiveStreamabilityRenderer.OfflineSlate
	if slate == nil {
		return 0, false
	}
	return toInt64(slate.LiveStreamOfflineSlateRenderer.ScheduledStartTime)
}

type playerResponse struct {
	PlayabilityStatus *playabilityStatus `json:"playabilityStatus"`
	VideoDetails      *struct {
		Title      string `json:"title"`
		IsLive     bool   `json:"isLive"`
		IsUpcoming bool   `json:"isUpcoming"`
	} `json:"videoDetails"`
	Microformat *struct {
		PlayerMicroformatRenderer struct {
			IsUnlisted           bool `json:"isUnlisted"`
			LiveBroadcastDetails *struct {
				IsLiveNow      bool   `json:"isLiveNow"`
				StartTimestamp string `json:"startTimestamp"`
				EndTimestamp   string `json:"endTimestamp"`
			} `json:"liveBroadcastDetails"`
		} `json:"playerMicroformatRenderer"`
	} `json:"microformat"`
	HeartbeatParams *struct {
		HeartbeatToken       string `json:"heartbeatToken"`
		IntervalMilliseconds string `json:"intervalMilliseconds"`
		HeartbeatServerData  string `json:"heartbeatServerData"`
	} `json:"heartbeatParams"`
}

// subMenuItem is one entry of the chat view selector ("Live chat",
// "Top chat replay", ...). The title decides replay vs live handling.
type subMenuItem struct {
	Title        string `json:"title"`
	Continuation struct {
		ReloadContinuationData struct {
			Continuation string `json:"continuation"`
		} `json:"reloadContinuationData"`
	} `json:"continuation"`
}

type watchInitialData struct {
	Contents *struct {
		TwoColumnWatchNextResults struct {
			ConversationBar *struct {
				LiveChatRenderer *struct {
					Header struct {
						LiveChatHeaderRenderer struct {
							ViewSelector struct {
								SortFilterSubMenuRenderer struct {
									SubMenuItems []subMenuItem `json:"subMenuItems"`
								} `json:"sortFilterSubMenuRenderer"`
							} `json:"viewSelector"`
						} `json:"liveChatHeaderRenderer"`
					} `json:"header"`
				} `json:"liveChatRenderer"`
				ConversationBarRenderer *struct {
					AvailabilityMessage *struct {
						MessageRenderer struct {
							Text map[string]any `json:"text"`
						} `json:"messageRenderer"`
					} `json:"availabilityMessage"`
				} `json:"conversationBarRenderer"`
			} `json:"conversationBar"`
		} `json:"twoColumnWatchNextResults"`
	} `json:"contents"`
}

func (d *watchInitialData) subMenuItems() []subMenuItem {
	if d.Contents == nil || d.Contents.TwoColumnWatchNextResults.ConversationBar == nil {
		return nil
	}
	lc := d.Contents.TwoColumnWatchNextResults.ConversationBar.LiveChatRenderer
	if lc == nil {
		return nil
	}
	return lc.Header.LiveChatHeaderRenderer.ViewSelector.SortFilterSubMenuRenderer.SubMenuItems
}

// availabilityMessage returns the service's own explanation for a missing
// chat ("Chat is disabled for this live stream.") when one is present.
func (d *watchInitialData) availabilityMessage() string {
	if d.Contents == nil || d.Contents.TwoColumnWatchNextResults.ConversationBar == nil {
		return ""
	}
	bar := d.Contents.TwoColumnWatchNextResults.ConversationBar.ConversationBarRenderer
	if bar == nil || bar.AvailabilityMessage == nil {
		return ""
	}
	if s, ok := textString(bar.AvailabilityMessage.MessageRenderer.Text); ok {
		return s
	}
	return ""
}

type watchPage struct {
	player playerResponse
	data   watchInitialData
}

func parseWatchPage(html []byte) (*watchPage, error) {
	rawPlayer, ok := extractObject(html, playerResponseAnchor)
	if !ok {
		return nil, &ParsingError{What: "initial player response", Snippet: snippet(html)}
	}
	rawData, ok := extractObject(html, initialDataAnchor)
	if !ok {
		return nil, &ParsingError{What: "initial data", Snippet: snippet(html)}
	}
	var page watchPage
	if err := json.Unmarshal(rawPlayer, &page.player); err != nil {
		return nil, &ParsingError{What: "initial player response", Snippet: snippet(rawPlayer)}
	}
	if err := json.Unmarshal(rawData, &page.data); err != nil {
		return nil, &ParsingError{What: "initial data", Snippet: snippet(rawData)}
	}
	return &page, nil
}

// innertubeConfig carries the keys the chat API needs. The context object is
// kept opaque and echoed back verbatim in request bodies.
type innertubeConfig struct {
	APIVersion string          `json:"INNERTUBE_API_VERSION"`
	APIKey     string          `json:"INNERTUBE_API_KEY"`
	Context    json.RawMessage `json:"INNERTUBE_CONTEXT"`
}

type liveChatContinuation struct {
	Actions       []map[string]any `json:"actions"`
	Continuations []map[string]any `json:"continuations"`
}

type chatResponse struct {
	ResponseContext struct {
		MainAppWebResponseContext struct {
			LoggedOut *bool `json:"loggedOut"`
		} `json:"mainAppWebResponseContext"`
	} `json:"responseContext"`
	ContinuationContents *struct {
		LiveChatContinuation *liveChatContinuation `json:"liveChatContinuation"`
	} `json:"continuationContents"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// loggedOut reports the response's login state; an absent field counts as
// logged out.
func (r *chatResponse) loggedOut() bool {
	if r.ResponseContext.MainAppWebResponseContext.LoggedOut == nil {
		return true
	}
	return *r.ResponseContext.MainAppWebResponseContext.LoggedOut
}

func (r *chatResponse) continuation() *liveChatContinuation {
	if r.ContinuationContents == nil {
		return nil
	}
	return r.ContinuationContents.LiveChatContinuation
}

type chatPage struct {
	cfg  innertubeConfig
	resp chatResponse
}

func parseChatPage(html []byte) (*chatPage, error) {
	rawCfg, ok := extractObject(html, ytcfgAnchor)
	if !ok {
		return nil, &ParsingError{What: "chat page config", Snippet: snippet(html)}
	}
	rawData, ok := extractObject(html, initialDataAnchor)
	if !ok {
		return nil, &ParsingError{What: "chat page data", Snippet: snippet(html)}
	}
	var page chatPage
	if err := json.Unmarshal(rawCfg, &page.cfg); err != nil {
		return nil, &ParsingError{What: "chat page config", Snippet: snippet(rawCfg)}
	}
	if err := json.Unmarshal(rawData, &page.resp); err != nil {
		return nil, &ParsingError{What: "chat page data", Snippet: snippet(rawData)}
	}
	return &page, nil
}
