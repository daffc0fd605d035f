package ytchat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type itemKind int

const (
	itemText itemKind = iota
	itemPaid
	itemMembership
)

// chatItem is one parsed live-chat renderer, normalized across the text,
// paid message, and membership renderer shapes.
type chatItem struct {
	kind      itemKind
	id        string
	userID    string
	username  string
	text      string
	timestamp time.Time

	// paid messages
	amount   float64
	currency string

	// memberships
	tier   string
	months int
}

// extractContinuation walks the poll response for the next continuation
// token and the suggested poll timeout in milliseconds.
func extractContinuation(payload map[string]any) (string, int) {
	cont := ""
	timeout := 0

	var walk func(any)
	walk = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			if cont == "" {
				if s, ok := val["continuation"].(string); ok && s != "" {
					cont = s
				}
				if cmd := digMap(val, "continuationEndpoint", "continuationCommand"); cmd != nil {
					if s, ok := cmd["token"].(string); ok && s != "" {
						cont = s
					}
				}
				if cmd := digMap(val, "liveChatContinuationEndpoint", "continuationCommand"); cmd != nil {
					if s, ok := cmd["token"].(string); ok && s != "" {
						cont = s
					}
				}
			}
			if timeout == 0 {
				if tm, ok := val["timeoutMs"].(float64); ok && tm > 0 {
					timeout = int(tm)
				}
			}
			for _, child := range val {
				walk(child)
			}
		case []any:
			for _, child := range val {
				walk(child)
			}
		}
	}

	walk(payload)
	return cont, timeout
}

func extractItems(payload map[string]any) []chatItem {
	var items []chatItem
	add := func(itemMap map[string]any) {
		if it, ok := buildItem(itemMap); ok {
			items = append(items, it)
		}
	}
	for _, action := range gatherActions(payload) {
		if node := digMap(action, "addChatItemAction", "item"); node != nil {
			add(node)
		}
		if appendAction := digMap(action, "appendContinuationItemsAction"); appendAction != nil {
			arr, ok := appendAction["continuationItems"].([]any)
			if !ok {
				continue
			}
			for _, elem := range arr {
				itemMap, ok := elem.(map[string]any)
				if !ok {
					continue
				}
				add(itemMap)
				if node := digMap(itemMap, "addChatItemAction", "item"); node != nil {
					add(node)
				}
			}
		}
	}
	return items
}

func gatherActions(payload map[string]any) []map[string]any {
	var out []map[string]any
	collect := func(arr []any) {
		for _, item := range arr {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	if arr, ok := payload["actions"].([]any); ok {
		collect(arr)
	}
	if arr, ok := payload["onResponseReceivedActions"].([]any); ok {
		collect(arr)
	}
	if lc := digMap(payload, "continuationContents", "liveChatContinuation"); lc != nil {
		if arr, ok := lc["actions"].([]any); ok {
			collect(arr)
		}
	}
	return out
}

// buildItem maps one action item onto a chatItem. The item map holds exactly
// one renderer key; unknown renderers are skipped.
func buildItem(node map[string]any) (chatItem, bool) {
	if renderer, ok := node["liveChatTextMessageRenderer"].(map[string]any); ok {
		return buildTextItem(renderer)
	}
	if renderer, ok := node["liveChatPaidMessageRenderer"].(map[string]any); ok {
		return buildPaidItem(renderer)
	}
	if renderer, ok := node["liveChatMembershipItemRenderer"].(map[string]any); ok {
		return buildMembershipItem(renderer)
	}
	return chatItem{}, false
}

func buildTextItem(renderer map[string]any) (chatItem, bool) {
	it := baseItem(renderer)
	it.kind = itemText
	if it.text == "" {
		return chatItem{}, false
	}
	return it, true
}

func buildPaidItem(renderer map[string]any) (chatItem, bool) {
	it := baseItem(renderer)
	it.kind = itemPaid
	amountText := textField(renderer, "purchaseAmountText")
	it.amount, it.currency = parsePaidAmount(amountText)
	if it.amount <= 0 {
		return chatItem{}, false
	}
	if it.id == "" {
		it.id = fmt.Sprintf("yt-%d", time.Now().UnixNano())
	}
	return it, true
}

func buildMembershipItem(renderer map[string]any) (chatItem, bool) {
	it := baseItem(renderer)
	it.kind = itemMembership
	header := textField(renderer, "headerSubtext")
	if header == "" {
		header = textField(renderer, "headerPrimaryText")
	}
	it.tier, it.months = parseMembershipHeader(header)
	if it.username == "" {
		return chatItem{}, false
	}
	return it, true
}

func baseItem(renderer map[string]any) chatItem {
	return chatItem{
		id:        stringField(renderer, "id"),
		userID:    stringField(renderer, "authorExternalChannelId"),
		username:  textField(renderer, "authorName"),
		text:      textField(renderer, "message"),
		timestamp: timestampField(renderer, "timestampUsec"),
	}
}

// parsePaidAmount splits a display amount like "$5.00" or "CA$2.00" into a
// numeric value and its currency prefix.
func parsePaidAmount(s string) (float64, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ""
	}
	start := strings.IndexFunc(s, func(r rune) bool {
		return r >= '0' && r <= '9'
	})
	if start == -1 {
		return 0, s
	}
	currency := strings.TrimSpace(s[:start])
	numeric := strings.ReplaceAll(s[start:], ",", "")
	amount, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, currency
	}
	return amount, currency
}

// parseMembershipHeader pulls a tier name and month count out of headers
// like "Member for 6 months" or "Welcome to Gold!".
func parseMembershipHeader(s string) (string, int) {
	tier := ""
	months := 0
	fields := strings.Fields(s)
	for i, f := range fields {
		if n, err := strconv.Atoi(f); err == nil && n > 0 {
			months = n
			continue
		}
		if strings.EqualFold(f, "to") && i+1 < len(fields) {
			tier = strings.Trim(fields[i+1], "!.")
		}
	}
	return tier, months
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func textField(m map[string]any, key string) string {
	nested, ok := m[key].(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := nested["simpleText"].(string); ok {
		return s
	}
	runs, ok := nested["runs"].([]any)
	if !ok {
		return ""
	}
	var builder strings.Builder
	for _, run := range runs {
		if part, ok := run.(map[string]any); ok {
			if text, ok := part["text"].(string); ok {
				builder.WriteString(text)
			}
		}
	}
	return builder.String()
}

func timestampField(m map[string]any, key string) time.Time {
	var ts time.Time
	switch v := m[key].(type) {
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts = time.Unix(0, n*1000).UTC()
		}
	case float64:
		ts = time.Unix(0, int64(v)*1000).UTC()
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ts
}

func extractJSONObject(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx == -1 {
		return ""
	}
	start := idx + len(marker)
	for start < len(text) && (text[start] == ' ' || text[start] == '\n' || text[start] == '\r' || text[start] == '\t') {
		start++
	}
	if start >= len(text) || text[start] != '{' {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func extractString(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx == -1 {
		return ""
	}
	start := idx + len(marker)
	end := strings.Index(text[start:], "\"")
	if end == -1 {
		return ""
	}
	return text[start : start+end]
}

func digMap(m map[string]any, keys ...string) map[string]any {
	current := m
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

// findInitialContinuation scans ytInitialData for the live chat
// continuation, restricting matches to subtrees under a liveChat* key so
// related-video continuations are not picked up.
func findInitialContinuation(data map[string]any) string {
	type queueItem struct {
		value      any
		inLiveChat bool
	}

	queue := []queueItem{{value: data}}

	for len(queue) > 0 {
		var item queueItem
		item, queue = queue[0], queue[1:]
		switch v := item.value.(type) {
		case map[string]any:
			currentLiveChat := item.inLiveChat || mapHasLiveChatKey(v)
			if currentLiveChat {
				if cont := continuationFromNode(v); cont != "" {
					return cont
				}
			}
			for key, child := range v {
				queue = append(queue, queueItem{value: child, inLiveChat: currentLiveChat || isLiveChatKey(key)})
			}
		case []any:
			for _, child := range v {
				queue = append(queue, queueItem{value: child, inLiveChat: item.inLiveChat})
			}
		}
	}
	return ""
}

func isLiveChatKey(key string) bool {
	return strings.Contains(strings.ToLower(key), "livechat")
}

func mapHasLiveChatKey(m map[string]any) bool {
	for key := range m {
		if isLiveChatKey(key) {
			return true
		}
	}
	return false
}

func continuationFromNode(node map[string]any) string {
	if arr, ok := node["continuations"].([]any); ok {
		for _, elem := range arr {
			if m, ok := elem.(map[string]any); ok {
				for _, key := range []string{"invalidationContinuationData", "timedContinuationData", "reloadContinuationData"} {
					if next := digMap(m, key); next != nil {
						if s, ok := next["continuation"].(string); ok && s != "" {
							return s
						}
					}
				}
			}
		}
	}
	if endpoint := digMap(node, "continuationEndpoint", "continuationCommand"); endpoint != nil {
		if s, ok := endpoint["token"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
