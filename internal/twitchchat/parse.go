package twitchchat

import (
	"strconv"
	"strings"
)

type privmsg struct {
	userID        string
	username      string
	text          string
	timestamp     any
	isMod         bool
	isSubscriber  bool
	isBroadcaster bool
}

type noticeKind int

const (
	noticeUnknown noticeKind = iota
	noticeSub
	noticeResub
	noticeGiftSub
	noticeRaid
)

type usernotice struct {
	kind        noticeKind
	userID      string
	username    string
	tier        string
	months      int
	message     string
	viewerCount int
	timestamp   any
}

// splitTags peels an IRCv3 tag prefix off the line and returns the decoded
// tag map plus the remainder.
func splitTags(line string) (map[string]string, string, bool) {
	tags := map[string]string{}
	rest := line
	if strings.HasPrefix(rest, "@") {
		idx := strings.Index(rest, " ")
		if idx == -1 {
			return nil, "", false
		}
		tagPart := rest[1:idx]
		rest = strings.TrimSpace(rest[idx+1:])
		for _, kv := range strings.Split(tagPart, ";") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			val := ""
			if len(parts) == 2 {
				val = unescapeIRC(parts[1])
			}
			tags[parts[0]] = val
		}
	}
	return tags, rest, true
}

func splitPrefix(rest string) (prefix, remainder string, ok bool) {
	if !strings.HasPrefix(rest, ":") {
		return "", "", false
	}
	rest = rest[1:]
	idx := strings.Index(rest, " ")
	if idx == -1 {
		return "", "", false
	}
	return rest[:idx], strings.TrimSpace(rest[idx+1:]), true
}

func parsePrivmsg(line, channel string) (privmsg, bool) {
	tags, rest, ok := splitTags(line)
	if !ok {
		return privmsg{}, false
	}
	prefix, rest, ok := splitPrefix(rest)
	if !ok {
		return privmsg{}, false
	}

	if !strings.HasPrefix(strings.ToUpper(rest), "PRIVMSG #") {
		return privmsg{}, false
	}
	rest = rest[len("PRIVMSG #"):]

	idx := strings.Index(rest, " ")
	if idx == -1 {
		return privmsg{}, false
	}
	chanName := rest[:idx]
	rest = strings.TrimSpace(rest[idx+1:])
	if !strings.EqualFold(chanName, channel) {
		return privmsg{}, false
	}
	if !strings.HasPrefix(rest, ":") {
		return privmsg{}, false
	}
	text := rest[1:]

	user := extractUser(prefix)
	if display := tags["display-name"]; display != "" {
		user = display
	}
	userID := tags["user-id"]
	if userID == "" {
		userID = strings.ToLower(extractUser(prefix))
	}

	badges := tags["badges"]
	msg := privmsg{
		userID:        userID,
		username:      user,
		text:          text,
		isMod:         tags["mod"] == "1" || hasBadge(badges, "moderator"),
		isSubscriber:  tags["subscriber"] == "1" || hasBadge(badges, "subscriber") || hasBadge(badges, "founder"),
		isBroadcaster: hasBadge(badges, "broadcaster"),
	}
	if ms, err := strconv.ParseInt(tags["tmi-sent-ts"], 10, 64); err == nil {
		msg.timestamp = ms
	}
	return msg, true
}

func parseUsernotice(line string) (usernotice, bool) {
	tags, rest, ok := splitTags(line)
	if !ok {
		return usernotice{}, false
	}
	_, rest, ok = splitPrefix(rest)
	if !ok {
		return usernotice{}, false
	}
	if !strings.HasPrefix(strings.ToUpper(rest), "USERNOTICE") {
		return usernotice{}, false
	}

	note := usernotice{
		userID:   tags["user-id"],
		username: tags["display-name"],
	}
	if note.username == "" {
		note.username = tags["login"]
	}
	if note.userID == "" {
		note.userID = strings.ToLower(tags["login"])
	}

	switch tags["msg-id"] {
	case "sub":
		note.kind = noticeSub
	case "resub":
		note.kind = noticeResub
	case "subgift", "anonsubgift":
		note.kind = noticeGiftSub
		// A gifted sub belongs to the recipient.
		if name := tags["msg-param-recipient-display-name"]; name != "" {
			note.username = name
		}
		if id := tags["msg-param-recipient-id"]; id != "" {
			note.userID = id
		}
	case "raid":
		note.kind = noticeRaid
	default:
		return usernotice{}, false
	}

	note.tier = subTier(tags["msg-param-sub-plan"])
	if n, err := strconv.Atoi(tags["msg-param-cumulative-months"]); err == nil {
		note.months = n
	}
	if note.months == 0 && note.kind != noticeRaid {
		note.months = 1
	}
	if n, err := strconv.Atoi(tags["msg-param-viewerCount"]); err == nil {
		note.viewerCount = n
	}
	if ms, err := strconv.ParseInt(tags["tmi-sent-ts"], 10, 64); err == nil {
		note.timestamp = ms
	}

	// Resub messages trail after the channel target.
	if idx := strings.Index(rest, " :"); idx != -1 {
		note.message = rest[idx+2:]
	}
	return note, true
}

func subTier(plan string) string {
	switch plan {
	case "1000":
		return "tier1"
	case "2000":
		return "tier2"
	case "3000":
		return "tier3"
	case "Prime":
		return "prime"
	}
	return plan
}

func hasBadge(badges, name string) bool {
	for _, b := range strings.Split(badges, ",") {
		if strings.HasPrefix(strings.TrimSpace(b), name+"/") {
			return true
		}
	}
	return false
}

func extractUser(prefix string) string {
	if strings.HasPrefix(prefix, ":") {
		prefix = prefix[1:]
	}
	if idx := strings.Index(prefix, "!"); idx != -1 {
		return prefix[:idx]
	}
	return prefix
}

func unescapeIRC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
