// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"strings"

	"go.mau.fi/util/variationselector"
)

// Mattermost names reactions by short name while the host stores unicode.
var nameToUnicode = map[string]string{
	"+1":               "\U0001f44d",
	"-1":               "\U0001f44e",
	"heart":            "❤️",
	"smile":            "\U0001f604",
	"laughing":         "\U0001f606",
	"thumbsup":         "\U0001f44d",
	"thumbsdown":       "\U0001f44e",
	"wave":             "\U0001f44b",
	"clap":             "\U0001f44f",
	"fire":             "\U0001f525",
	"100":              "\U0001f4af",
	"tada":             "\U0001f389",
	"eyes":             "\U0001f440",
	"thinking":         "\U0001f914",
	"white_check_mark": "✅",
	"x":                "❌",
	"warning":          "⚠️",
	"rocket":           "\U0001f680",
	"star":             "⭐",
	"pray":             "\U0001f64f",
}

// unicodeToName is keyed without variation selectors so "❤" and "❤️" match.
var unicodeToName = func() map[string]string {
	out := make(map[string]string, len(nameToUnicode))
	for name, emoji := range nameToUnicode {
		key := variationselector.Remove(emoji)
		// thumbsup/thumbsdown alias +1/-1; keep the canonical names.
		if existing, ok := out[key]; ok && len(existing) <= len(name) {
			continue
		}
		out[key] = name
	}
	return out
}()

// EmojiName converts a unicode emoji to the Mattermost reaction name. Custom
// emoji written as :name: lose their colons; anything else passes through.
func EmojiName(emoji string) string {
	if name, ok := unicodeToName[variationselector.Remove(emoji)]; ok {
		return name
	}
	if len(emoji) > 2 && strings.HasPrefix(emoji, ":") && strings.HasSuffix(emoji, ":") {
		return emoji[1 : len(emoji)-1]
	}
	return emoji
}

// EmojiUnicode converts a Mattermost reaction name to unicode. Names without
// a unicode form are returned as :name:.
func EmojiUnicode(name string) string {
	if emoji, ok := nameToUnicode[name]; ok {
		return emoji
	}
	return ":" + name + ":"
}
