package notify

import (
	"fmt"
	"strings"

	"github.com/you/streamops/internal/core"
)

func displayName(base core.Base, fallback string) string {
	if name := strings.TrimSpace(base.Username); name != "" {
		return name
	}
	return fallback
}

// DisplayMessage renders the on-screen line for a notification event.
func DisplayMessage(ev core.Event, fallbackUsername string) string {
	name := displayName(ev.Common(), fallbackUsername)

	switch e := ev.(type) {
	case *core.Paypiggy:
		if e.IsRenewal {
			return fmt.Sprintf("%s resubscribed (%d months)", name, e.Months)
		}
		return fmt.Sprintf("%s subscribed", name)
	case *core.Gift:
		label := e.GiftType
		if label == "" {
			label = "a gift"
		}
		if e.GiftCount > 1 {
			return fmt.Sprintf("%s sent %s x%d", name, label, e.GiftCount)
		}
		return fmt.Sprintf("%s sent %s", name, label)
	case *core.Follow:
		return fmt.Sprintf("%s followed", name)
	case *core.Share:
		return fmt.Sprintf("%s shared the stream", name)
	case *core.Raid:
		return fmt.Sprintf("%s raided with %d viewers", name, e.ViewerCount)
	}
	return fmt.Sprintf("%s: %s", name, ev.Kind().Key())
}

// TTSMessage is what the speech engine reads. It mirrors the display line
// but includes the paypiggy message body when present.
func TTSMessage(ev core.Event, fallbackUsername string) string {
	if p, ok := ev.(*core.Paypiggy); ok {
		line := DisplayMessage(ev, fallbackUsername)
		if msg := strings.TrimSpace(p.Message); msg != "" {
			return line + ". " + msg
		}
		return line
	}
	return DisplayMessage(ev, fallbackUsername)
}
