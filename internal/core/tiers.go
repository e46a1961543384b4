package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/huddle/internal/types"
)

// Tier is a named feature-capability profile.
type Tier string

const (
	TierLite  Tier = "LITE"
	TierSmart Tier = "SMART"
	TierMax   Tier = "MAX"
)

// ErrUnknownTier is returned for a tier name that is not LITE, SMART or MAX.
var ErrUnknownTier = errors.New("unknown tier")

// DefaultTier is used when nothing is configured.
const DefaultTier = TierMax

// Capabilities lists which message features are enabled.
type Capabilities struct {
	Text         bool `yaml:"text" json:"text"`
	Images       bool `yaml:"images" json:"images"`
	Video        bool `yaml:"video" json:"video"`
	Audio        bool `yaml:"audio" json:"audio"`
	Files        bool `yaml:"files" json:"files"`
	Replies      bool `yaml:"replies" json:"replies"`
	Pin          bool `yaml:"pin" json:"pin"`
	Reactions    bool `yaml:"reactions" json:"reactions"`
	Edit         bool `yaml:"edit" json:"edit"`
	MessageLimit int  `yaml:"message_limit" json:"message_limit"`
}

var tierCapabilities = map[Tier]Capabilities{
	TierLite: {
		Text:         true,
		Replies:      true,
		Reactions:    true,
		MessageLimit: 20,
	},
	TierSmart: {
		Text:         true,
		Images:       true,
		Files:        true,
		Replies:      true,
		Pin:          true,
		Reactions:    true,
		Edit:         true,
		MessageLimit: 100,
	},
	TierMax: {
		Text:         true,
		Images:       true,
		Video:        true,
		Audio:        true,
		Files:        true,
		Replies:      true,
		Pin:          true,
		Reactions:    true,
		Edit:         true,
		MessageLimit: 100,
	},
}

// ParseTier resolves a tier name case-insensitively.
func ParseTier(value string) (Tier, error) {
	name := Tier(strings.ToUpper(strings.TrimSpace(value)))
	if name == "" {
		return DefaultTier, nil
	}
	if _, ok := tierCapabilities[name]; !ok {
		return "", fmt.Errorf("%w %q (want LITE, SMART or MAX)", ErrUnknownTier, value)
	}
	return name, nil
}

// Capabilities returns the tier's capability profile.
func (t Tier) Capabilities() Capabilities {
	if caps, ok := tierCapabilities[t]; ok {
		return caps
	}
	return tierCapabilities[DefaultTier]
}

// AllowsAttachment reports whether an attachment kind is enabled.
func (c Capabilities) AllowsAttachment(kind types.AttachmentKind) bool {
	switch kind {
	case types.AttachmentImage:
		return c.Images
	case types.AttachmentVideo:
		return c.Video
	case types.AttachmentAudio:
		return c.Audio
	case types.AttachmentFile:
		return c.Files
	default:
		return false
	}
}

// Limit returns the feed window size, falling back to 100.
func (c Capabilities) Limit() int {
	if c.MessageLimit <= 0 {
		return 100
	}
	return c.MessageLimit
}
