// Package config holds the operator bot's configuration surface. Values come
// from an INI file and arrive as strings; the accessors coerce them (only the
// literal "true" passes as a boolean, unparseable numbers fall back to the
// supplied default). Environment variables of the form
// STREAMOPS_<SECTION>_<KEY> override file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/ini.v1"

	"github.com/you/streamops/internal/core"
)

const envPrefix = "STREAMOPS_"

// Service is the read-only configuration store handed to the pipeline
// components. All values are strings until an accessor coerces them.
type Service struct {
	mu       sync.RWMutex
	sections map[string]map[string]string
}

// FromSections builds a Service from already-parsed sections. Tests use this
// directly; production goes through LoadFile.
func FromSections(sections map[string]map[string]string) *Service {
	copied := make(map[string]map[string]string, len(sections))
	for name, keys := range sections {
		sec := make(map[string]string, len(keys))
		for k, v := range keys {
			sec[k] = v
		}
		copied[name] = sec
	}
	return &Service{sections: copied}
}

// LoadFile parses the INI file at path and applies environment overrides.
func LoadFile(path string) (*Service, error) {
	sections, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	svc := &Service{sections: sections}
	svc.applyEnv(os.Environ())
	return svc, nil
}

// Reload re-parses the file and swaps the section map in place, so
// components holding the Service see the new values on their next read.
func (s *Service) Reload(path string) error {
	sections, err := parseFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sections = sections
	s.mu.Unlock()
	s.applyEnv(os.Environ())
	return nil
}

func parseFile(path string) (map[string]map[string]string, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w (create the file or pass -config)", path, err)
	}

	sections := make(map[string]map[string]string)
	for _, sec := range file.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection {
			name = "general"
		}
		keys := sections[name]
		if keys == nil {
			keys = make(map[string]string)
			sections[name] = keys
		}
		for _, key := range sec.Keys() {
			keys[key.Name()] = key.Value()
		}
	}
	return sections, nil
}

// applyEnv folds STREAMOPS_<SECTION>_<KEY>=value pairs over the file values.
// Section and key are matched case-insensitively against existing entries;
// unknown pairs create new ones with the lowercased section name.
func (s *Service) applyEnv(environ []string) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		eq := strings.Index(kv, "=")
		if eq < 0 {
			continue
		}
		name, value := kv[len(envPrefix):eq], kv[eq+1:]
		us := strings.Index(name, "_")
		if us <= 0 || us == len(name)-1 {
			continue
		}
		section := strings.ToLower(name[:us])
		key := name[us+1:]
		s.set(section, key, value)
	}
}

func (s *Service) set(section, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sections == nil {
		s.sections = make(map[string]map[string]string)
	}
	sec := s.sections[section]
	if sec == nil {
		sec = make(map[string]string)
		s.sections[section] = sec
	}
	// Land env overrides on the INI-cased key when one exists.
	for existing := range sec {
		if strings.EqualFold(existing, key) {
			sec[existing] = value
			return
		}
	}
	sec[key] = value
}

func (s *Service) lookup(section, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.sections[section]
	if !ok {
		return "", false
	}
	if v, ok := sec[key]; ok {
		return v, true
	}
	for k, v := range sec {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Str returns the raw string value or def when absent.
func (s *Service) Str(section, key, def string) string {
	if v, ok := s.lookup(section, key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

// Bool coerces a boolean. Only the literal "true" passes; an absent key
// yields def.
func (s *Service) Bool(section, key string, def bool) bool {
	v, ok := s.lookup(section, key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v) == "true"
}

// Int coerces an integer; invalid strings fall back to def.
func (s *Service) Int(section, key string, def int) int {
	v, ok := s.lookup(section, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Float coerces a float; invalid strings fall back to def.
func (s *Service) Float(section, key string, def float64) float64 {
	v, ok := s.lookup(section, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// DurationMS reads a millisecond count. Conversion from config units to
// time.Duration happens here, at the boundary; components only ever see
// Durations.
func (s *Service) DurationMS(section, key string, def time.Duration) time.Duration {
	ms := s.Int(section, key, int(def/time.Millisecond))
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// DurationSec reads a second count.
func (s *Service) DurationSec(section, key string, def time.Duration) time.Duration {
	secs := s.Int(section, key, int(def/time.Second))
	if secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// Section returns a copy of one section's raw values.
func (s *Service) Section(name string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range s.sections[name] {
		out[k] = v
	}
	return out
}

/***************
 * Domain accessors
 ***************/

// General mirrors the [general] section's recognized options.
type General struct {
	DebugEnabled            bool
	FilterOldMessages       bool
	GreetingsEnabled        bool
	TTSEnabled              bool
	GiftsEnabled            bool
	FollowsEnabled          bool
	GlobalCmdCooldown       time.Duration
	CmdCooldown             time.Duration
	FallbackUsername        string
	UserSuppressionEnabled  bool
	MaxNotificationsPerUser int
	SuppressionWindow       time.Duration
	SuppressionDuration     time.Duration
}

func (s *Service) General() General {
	return General{
		DebugEnabled:            s.Bool("general", "debugEnabled", false),
		FilterOldMessages:       s.Bool("general", "filterOldMessages", false),
		GreetingsEnabled:        s.Bool("general", "greetingsEnabled", false),
		TTSEnabled:              s.Bool("general", "ttsEnabled", false),
		GiftsEnabled:            s.Bool("general", "giftsEnabled", true),
		FollowsEnabled:          s.Bool("general", "followsEnabled", true),
		GlobalCmdCooldown:       s.DurationMS("general", "globalCmdCooldownMs", 0),
		CmdCooldown:             s.DurationSec("general", "cmdCoolDown", 0),
		FallbackUsername:        s.Str("general", "fallbackUsername", "someone"),
		UserSuppressionEnabled:  s.Bool("general", "userSuppressionEnabled", false),
		MaxNotificationsPerUser: s.Int("general", "maxNotificationsPerUser", 5),
		SuppressionWindow:       s.DurationMS("general", "suppressionWindowMs", 30*time.Second),
		SuppressionDuration:     s.DurationMS("general", "suppressionDurationMs", 60*time.Second),
	}
}

// PlatformEnabled reports whether the named platform section is enabled.
func (s *Service) PlatformEnabled(p core.Platform) bool {
	return s.Bool(string(p), "enabled", false)
}

// PlatformNotificationsEnabled gates broadcasting-engine updates per
// platform. Defaults to enabled.
func (s *Service) PlatformNotificationsEnabled(p core.Platform) bool {
	if v, ok := s.lookup(string(p), "notificationsEnabled"); ok {
		return strings.TrimSpace(v) == "true"
	}
	return true
}

// NotificationsEnabled reports whether a notification kind should reach the
// display queue for the given platform. typeKey is the short kind key
// ("gift", "follow", "paypiggy", ...).
func (s *Service) NotificationsEnabled(typeKey string, p core.Platform) bool {
	switch typeKey {
	case "gift", "envelope":
		if !s.Bool("general", "giftsEnabled", true) {
			return false
		}
	case "follow":
		if !s.Bool("general", "followsEnabled", true) {
			return false
		}
	}
	if v, ok := s.lookup("notifications", typeKey); ok && strings.TrimSpace(v) != "true" {
		return false
	}
	return true
}

// VFXCommand returns the [commands] value for a command key or alias.
func (s *Service) VFXCommand(key string) (string, bool) {
	v, ok := s.lookup("commands", key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

/***************
 * Redacted summaries
 ***************/

var secretKeys = map[string]struct{}{
	"apiKey":       {},
	"token":        {},
	"accessToken":  {},
	"refreshToken": {},
	"clientSecret": {},
	"password":     {},
}

// Redacted returns the full config with secret-looking values masked, for
// startup logging.
func (s *Service) Redacted() map[string]map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]string, len(s.sections))
	for name, keys := range s.sections {
		sec := make(map[string]string, len(keys))
		for k, v := range keys {
			if _, secret := secretKeys[k]; secret && strings.TrimSpace(v) != "" {
				sec[k] = "***REDACTED*** (len=" + strconv.Itoa(len(v)) + ")"
			} else {
				sec[k] = v
			}
		}
		out[name] = sec
	}
	return out
}

func (s *Service) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(s.Redacted(), "", "  ")
	return data
}

// EnabledPlatforms lists the configured platforms whose sections are
// enabled, in stable order.
func (s *Service) EnabledPlatforms() []core.Platform {
	s.mu.RLock()
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	s.mu.RUnlock()

	var out []core.Platform
	for _, name := range names {
		p, ok := core.ParsePlatform(name)
		if !ok {
			continue
		}
		if s.PlatformEnabled(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
