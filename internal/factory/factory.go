// Package factory builds canonical event records from raw platform payloads.
// Each constructor validates the per-kind invariants up front and returns a
// record that is never mutated afterwards.
package factory

import (
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/you/streamops/internal/clock"
	"github.com/you/streamops/internal/core"
)

// Identity is the normalized user identity attached to every event.
type Identity struct {
	UserID   string
	Username string
}

// IdentityExtractor normalizes platform-specific user shapes. The default
// extractor trusts the input fields and applies the fallback username.
type IdentityExtractor func(userID, username string) Identity

// Factory builds canonical events for one platform.
type Factory struct {
	platform      core.Platform
	clock         clock.Clock
	identity      IdentityExtractor
	correlationID func() string
}

// Option configures a Factory.
type Option func(*Factory)

func WithClock(c clock.Clock) Option {
	return func(f *Factory) { f.clock = c }
}

func WithIdentityExtractor(ex IdentityExtractor) Option {
	return func(f *Factory) { f.identity = ex }
}

// WithCorrelationIDs overrides correlation id generation; tests use this for
// deterministic ids.
func WithCorrelationIDs(gen func() string) Option {
	return func(f *Factory) { f.correlationID = gen }
}

func New(platform core.Platform, opts ...Option) *Factory {
	f := &Factory{
		platform: platform,
		clock:    clock.SystemClock{},
		correlationID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
	f.identity = func(userID, username string) Identity {
		return Identity{UserID: strings.TrimSpace(userID), Username: strings.TrimSpace(username)}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) Platform() core.Platform { return f.platform }

// base assembles the shared fields: normalized identity, a normalized
// timestamp (falling back to the clock) and metadata with a fresh
// correlation id.
func (f *Factory) base(kind core.EventType, userID, username string, rawTimestamp any) core.Base {
	id := f.identity(userID, username)
	return core.Base{
		Type:      kind,
		Platform:  f.platform,
		UserID:    id.UserID,
		Username:  id.Username,
		Timestamp: clock.ExtractTimestamp(f.clock, rawTimestamp),
		Metadata: core.Metadata{
			Platform:      string(f.platform),
			CorrelationID: f.correlationID(),
		},
	}
}

// ChatInput is the normalized raw chat payload.
type ChatInput struct {
	UserID        string
	Username      string
	Message       string
	Timestamp     any
	IsMod         bool
	IsSubscriber  bool
	IsBroadcaster bool
}

func (f *Factory) CreateChatMessage(in ChatInput) (*core.ChatMessage, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, newValidationError("message", "%s chat message requires message text", f.platform.DisplayName())
	}
	return &core.ChatMessage{
		Base:          f.base(core.EventChatMessage, in.UserID, in.Username, in.Timestamp),
		Text:          in.Message,
		IsMod:         in.IsMod,
		IsSubscriber:  in.IsSubscriber,
		IsBroadcaster: in.IsBroadcaster,
	}, nil
}

// GiftInput is the normalized raw gift payload. Aggregation fields carry
// through only when the adapter already aggregated; the factory never
// aggregates itself.
type GiftInput struct {
	UserID          string
	Username        string
	GiftType        string
	GiftCount       int
	Amount          float64
	Currency        string
	MessageID       string
	Timestamp       any
	RepeatCount     int
	UnitAmount      float64
	IsAggregated    bool
	AggregatedCount int
	EnhancedData    map[string]any
}

func (f *Factory) CreateGift(in GiftInput) (*core.Gift, error) {
	name := f.platform.DisplayName()
	if strings.TrimSpace(in.GiftType) == "" {
		return nil, newValidationError("giftType", "%s gift requires giftType", name)
	}
	if in.GiftCount <= 0 {
		return nil, newValidationError("giftCount", "%s gift requires positive giftCount", name)
	}
	if err := validAmount(in.Amount, "amount", name+" gift"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Currency) == "" {
		return nil, newValidationError("currency", "%s gift requires currency", name)
	}
	if strings.TrimSpace(in.MessageID) == "" {
		return nil, newValidationError("id", "%s gift requires message id", name)
	}

	gift := &core.Gift{
		Base:        f.base(core.EventGift, in.UserID, in.Username, in.Timestamp),
		GiftType:    in.GiftType,
		GiftCount:   in.GiftCount,
		Amount:      in.Amount,
		Currency:    in.Currency,
		MessageID:   in.MessageID,
		RepeatCount: in.RepeatCount,
		UnitAmount:  in.UnitAmount,
	}
	if in.IsAggregated || in.AggregatedCount > 0 {
		gift.IsAggregated = true
		gift.AggregatedCount = in.AggregatedCount
	}
	if len(in.EnhancedData) > 0 {
		gift.EnhancedGiftData = copyMap(in.EnhancedData)
	}
	return gift, nil
}

// EnvelopeInput is the raw treasure-chest payload.
type EnvelopeInput struct {
	UserID    string
	Username  string
	GiftCoins float64
	Currency  string
	MessageID string
	Timestamp any
}

// envelopeGiftType is the fixed gift type every envelope carries.
const envelopeGiftType = "Treasure Chest"

func (f *Factory) CreateEnvelope(in EnvelopeInput) (*core.Gift, error) {
	name := f.platform.DisplayName()
	if strings.TrimSpace(in.Currency) == "" {
		return nil, newValidationError("currency", "%s envelope requires currency", name)
	}
	if err := validAmount(in.GiftCoins, "amount", name+" envelope"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.MessageID) == "" {
		return nil, newValidationError("id", "%s envelope requires message id", name)
	}
	return &core.Gift{
		Base:        f.base(core.EventEnvelope, in.UserID, in.Username, in.Timestamp),
		GiftType:    envelopeGiftType,
		GiftCount:   1,
		RepeatCount: 1,
		Amount:      in.GiftCoins,
		Currency:    in.Currency,
		MessageID:   in.MessageID,
	}, nil
}

// PaypiggyInput is the raw paid-membership payload. Months comes from the
// platform's cumulative_months equivalent.
type PaypiggyInput struct {
	UserID    string
	Username  string
	Tier      string
	Months    int
	Message   string
	Timestamp any
}

func (f *Factory) CreatePaypiggy(in PaypiggyInput) (*core.Paypiggy, error) {
	if in.Months < 0 {
		return nil, newValidationError("months", "%s paypiggy requires non-negative months", f.platform.DisplayName())
	}
	return &core.Paypiggy{
		Base:      f.base(core.EventPaypiggy, in.UserID, in.Username, in.Timestamp),
		Tier:      in.Tier,
		Months:    in.Months,
		Message:   in.Message,
		IsRenewal: in.Months > 1,
	}, nil
}

type FollowInput struct {
	UserID    string
	Username  string
	Timestamp any
}

func (f *Factory) CreateFollow(in FollowInput) (*core.Follow, error) {
	return &core.Follow{Base: f.base(core.EventFollow, in.UserID, in.Username, in.Timestamp)}, nil
}

type ShareInput struct {
	UserID    string
	Username  string
	Timestamp any
}

func (f *Factory) CreateShare(in ShareInput) (*core.Share, error) {
	return &core.Share{Base: f.base(core.EventShare, in.UserID, in.Username, in.Timestamp)}, nil
}

type RaidInput struct {
	UserID      string
	Username    string
	ViewerCount int
	Timestamp   any
}

func (f *Factory) CreateRaid(in RaidInput) (*core.Raid, error) {
	if in.ViewerCount < 0 {
		return nil, newValidationError("viewerCount", "%s raid requires non-negative viewerCount", f.platform.DisplayName())
	}
	return &core.Raid{
		Base:        f.base(core.EventRaid, in.UserID, in.Username, in.Timestamp),
		ViewerCount: in.ViewerCount,
	}, nil
}

func (f *Factory) CreateStreamStatus(isLive bool, timestamp any) *core.StreamStatus {
	return &core.StreamStatus{
		Base:   f.base(core.EventStreamStatus, "", "", timestamp),
		IsLive: isLive,
	}
}

func (f *Factory) CreateConnection() *core.Connection {
	return &core.Connection{Base: f.base(core.EventConnection, "", "", nil)}
}

func (f *Factory) CreateDisconnection(reason string) *core.Disconnection {
	return &core.Disconnection{
		Base:   f.base(core.EventDisconnection, "", "", nil),
		Reason: reason,
	}
}

func (f *Factory) CreateError(message string, recoverable bool) *core.PlatformError {
	return &core.PlatformError{
		Base:        f.base(core.EventError, "", "", nil),
		Message:     message,
		Recoverable: recoverable,
	}
}

// VFXInput carries the execution context echoed into the executed and
// completed events.
type VFXInput struct {
	UserID           string
	Username         string
	CommandKey       string
	Command          string
	NotificationType string
	CorrelationID    string
}

func (f *Factory) CreateVFXCommandExecuted(in VFXInput) *core.VFXCommandExecuted {
	b := f.base(core.EventVFXCommandExecuted, in.UserID, in.Username, nil)
	if in.CorrelationID != "" {
		b.Metadata.CorrelationID = in.CorrelationID
	}
	return &core.VFXCommandExecuted{
		Base:             b,
		CommandKey:       in.CommandKey,
		Command:          in.Command,
		NotificationType: in.NotificationType,
	}
}

func (f *Factory) CreateVFXEffectCompleted(in VFXInput, execErr string) *core.VFXEffectCompleted {
	b := f.base(core.EventVFXEffectCompleted, in.UserID, in.Username, nil)
	if in.CorrelationID != "" {
		b.Metadata.CorrelationID = in.CorrelationID
	}
	return &core.VFXEffectCompleted{
		Base:             b,
		CommandKey:       in.CommandKey,
		Command:          in.Command,
		NotificationType: in.NotificationType,
		Error:            execErr,
	}
}

func validAmount(amount float64, field, context string) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return newValidationError(field, "%s requires a finite %s", context, field)
	}
	if amount <= 0 {
		return newValidationError(field, "%s requires positive %s", context, field)
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
