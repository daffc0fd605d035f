// Package vfx maps chat commands and notification keys to visual effects,
// applies the per-user and global command cooldowns, and emits the
// executed/completed event pair around each effect run.
package vfx

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/you/streamops/internal/clock"
	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/cooldown"
	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/factory"
	"github.com/you/streamops/internal/metrics"
)

// CommandParser resolves a raw chat message to an effect descriptor. A nil
// descriptor with a nil error means the message is not a command.
type CommandParser interface {
	GetVFXConfig(message string) (*core.VFXConfig, error)
}

// EffectsEngine starts effect playback. The returned channel resolves when
// the effect finishes; a non-nil start error means nothing was played.
type EffectsEngine interface {
	Trigger(ctx context.Context, desc core.VFXConfig, ectx ExecContext) (<-chan error, error)
}

// Publisher is the slice of the event bus the service needs.
type Publisher interface {
	Publish(ev core.Event) error
}

// ExecContext identifies who triggered an effect and how.
type ExecContext struct {
	Username         string
	UserID           string
	Platform         core.Platform
	SkipCooldown     bool
	NotificationType string
	CorrelationID    string
}

type Options struct {
	// MediaSource is the broadcasting-engine source that plays effect files.
	MediaSource string
	// FileDir is prepended to configured effect filenames.
	FileDir string
	// MaxEffectDuration bounds a single effect's playback window.
	MaxEffectDuration time.Duration
}

type Service struct {
	parser CommandParser
	engine EffectsEngine
	cfg    *config.Service
	ledger *cooldown.Ledger
	pub    Publisher
	clock  clock.Clock
	opts   Options
	logger *slog.Logger
}

func NewService(parser CommandParser, engine EffectsEngine, cfg *config.Service, ledger *cooldown.Ledger, pub Publisher, c clock.Clock, opts Options) *Service {
	if c == nil {
		c = clock.SystemClock{}
	}
	if opts.MediaSource == "" {
		opts.MediaSource = "vfx_media"
	}
	if opts.MaxEffectDuration <= 0 {
		opts.MaxEffectDuration = 10 * time.Second
	}
	return &Service{
		parser: parser,
		engine: engine,
		cfg:    cfg,
		ledger: ledger,
		pub:    pub,
		clock:  c,
		opts:   opts,
		logger: slog.Default().With("component", "vfx"),
	}
}

// ConfigParser returns a parser that resolves "!"-style chat commands
// through the service's configured command table.
func (s *Service) ConfigParser() CommandParser {
	return configParser{svc: s}
}

type configParser struct {
	svc *Service
}

func (p configParser) GetVFXConfig(message string) (*core.VFXConfig, error) {
	key := strings.ToLower(strings.TrimSpace(message))
	key = strings.TrimPrefix(key, "!")
	return p.svc.GetVFXConfig(key), nil
}

// GetVFXConfig resolves a command key to its effect descriptor from config.
// Missing configuration yields nil, not an error.
func (s *Service) GetVFXConfig(commandKey string) *core.VFXConfig {
	key := strings.TrimSpace(commandKey)
	if key == "" || s.cfg == nil {
		return nil
	}
	filename, ok := s.cfg.VFXCommand(key)
	if !ok {
		return nil
	}
	return &core.VFXConfig{
		CommandKey:  key,
		Filename:    filename,
		MediaSource: s.opts.MediaSource,
		FilePath:    filepath.Join(s.opts.FileDir, filename),
		Duration:    s.opts.MaxEffectDuration,
	}
}

// ExecuteCommand resolves a raw chat message through the command parser and
// runs the effect.
func (s *Service) ExecuteCommand(ctx context.Context, message string, ectx ExecContext) core.Result {
	if strings.TrimSpace(message) == "" {
		return core.Fail("VFXCommandService requires message")
	}

	parser := s.parser
	if parser == nil {
		parser = s.ConfigParser()
	}
	desc, err := parser.GetVFXConfig(message)
	if err != nil {
		return core.Fail(err.Error())
	}
	if desc == nil {
		return core.Fail("Command not found")
	}
	return s.execute(ctx, *desc, message, ectx)
}

// ExecuteCommandForKey resolves directly from config, bypassing the parser.
func (s *Service) ExecuteCommandForKey(ctx context.Context, commandKey string, ectx ExecContext) core.Result {
	if strings.TrimSpace(commandKey) == "" {
		return core.Fail("Missing command key")
	}
	desc := s.GetVFXConfig(commandKey)
	if desc == nil {
		return core.Fail("No VFX configured for " + commandKey)
	}
	return s.execute(ctx, *desc, "", ectx)
}

func (s *Service) execute(ctx context.Context, desc core.VFXConfig, command string, ectx ExecContext) core.Result {
	if !ectx.SkipCooldown && s.ledger != nil {
		if !s.ledger.Allow(ectx.UserID, desc.CommandKey) {
			metrics.CooldownRejections.Inc()
			return core.Fail("Command on cooldown")
		}
	}

	done, err := s.engine.Trigger(ctx, desc, ectx)
	if err != nil {
		metrics.VFXCommands.WithLabelValues("error").Inc()
		return core.Fail(err.Error())
	}

	if !ectx.SkipCooldown && s.ledger != nil {
		s.ledger.Record(ectx.UserID, desc.CommandKey)
	}
	metrics.VFXCommands.WithLabelValues("ok").Inc()

	in := factory.VFXInput{
		UserID:           ectx.UserID,
		Username:         ectx.Username,
		CommandKey:       desc.CommandKey,
		Command:          command,
		NotificationType: ectx.NotificationType,
		CorrelationID:    ectx.CorrelationID,
	}
	f := factory.New(ectx.Platform, factory.WithClock(s.clock))
	if err := s.pub.Publish(f.CreateVFXCommandExecuted(in)); err != nil {
		s.logger.Error("publish vfx-command-executed", "err", err, "commandKey", desc.CommandKey)
	}

	go s.awaitCompletion(done, ectx.Platform, in)
	return core.OK()
}

// RunEffect plays a display item's resolved effect descriptor as the item is
// shown. Notification-triggered effects are not user commands, so the
// cooldown ledgers are bypassed.
func (s *Service) RunEffect(ctx context.Context, item core.DisplayItem) {
	if item.VFX == nil {
		return
	}
	ectx := ExecContext{
		Platform:         item.Platform,
		SkipCooldown:     true,
		NotificationType: item.Type.Key(),
	}
	if item.Event != nil {
		base := item.Event.Common()
		ectx.Username = base.Username
		ectx.UserID = base.UserID
		ectx.CorrelationID = base.Metadata.CorrelationID
	}
	if res := s.execute(ctx, *item.VFX, "", ectx); !res.Success {
		s.logger.Error("notification effect failed", "commandKey", item.VFX.CommandKey, "reason", res.Error)
	}
}

// awaitCompletion emits the completed event once the effect resolves, even
// when playback failed mid-flight.
func (s *Service) awaitCompletion(done <-chan error, platform core.Platform, in factory.VFXInput) {
	var execErr string
	if done != nil {
		if err := <-done; err != nil {
			execErr = err.Error()
			s.logger.Error("vfx effect failed", "err", err, "commandKey", in.CommandKey)
		}
	}
	f := factory.New(platform, factory.WithClock(s.clock))
	if err := s.pub.Publish(f.CreateVFXEffectCompleted(in, execErr)); err != nil {
		s.logger.Error("publish vfx-effect-completed", "err", err, "commandKey", in.CommandKey)
	}
}
