// ABOUTME: Gateway intents bitmask requested during identify
// ABOUTME: Named bits, presets, and parsing from configuration names

package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Intents is the capability bitmask sent in identify.
type Intents uint64

const (
	IntentGuilds                      Intents = 1 << 0
	IntentMembers                     Intents = 1 << 1
	IntentBans                        Intents = 1 << 2
	IntentEmojisAndStickers           Intents = 1 << 3
	IntentIntegrations                Intents = 1 << 4
	IntentWebhooks                    Intents = 1 << 5
	IntentInvites                     Intents = 1 << 6
	IntentVoiceStates                 Intents = 1 << 7
	IntentPresences                   Intents = 1 << 8
	IntentGuildMessages               Intents = 1 << 9
	IntentGuildReactions              Intents = 1 << 10
	IntentGuildTyping                 Intents = 1 << 11
	IntentDirectMessages              Intents = 1 << 12
	IntentDirectReactions             Intents = 1 << 13
	IntentDirectTyping                Intents = 1 << 14
	IntentMessageContent              Intents = 1 << 15
	IntentGuildScheduledEvents        Intents = 1 << 16
	IntentAutoModerationConfiguration Intents = 1 << 20
	IntentAutoModerationExecution     Intents = 1 << 21
)

var intentNames = map[string]Intents{
	"guilds":                        IntentGuilds,
	"members":                       IntentMembers,
	"bans":                          IntentBans,
	"emojis_and_stickers":           IntentEmojisAndStickers,
	"integrations":                  IntentIntegrations,
	"webhooks":                      IntentWebhooks,
	"invites":                       IntentInvites,
	"voice_states":                  IntentVoiceStates,
	"presences":                     IntentPresences,
	"guild_messages":                IntentGuildMessages,
	"guild_reactions":               IntentGuildReactions,
	"guild_typing":                  IntentGuildTyping,
	"direct_messages":               IntentDirectMessages,
	"direct_reactions":              IntentDirectReactions,
	"direct_typing":                 IntentDirectTyping,
	"message_content":               IntentMessageContent,
	"guild_scheduled_events":        IntentGuildScheduledEvents,
	"auto_moderation_configuration": IntentAutoModerationConfiguration,
	"auto_moderation_execution":     IntentAutoModerationExecution,
}

// Grouped names covering both guild and direct variants.
var intentGroups = map[string]Intents{
	"messages":  IntentGuildMessages | IntentDirectMessages,
	"reactions": IntentGuildReactions | IntentDirectReactions,
	"typing":    IntentGuildTyping | IntentDirectTyping,
}

// AllIntents returns every known intent bit.
func AllIntents() Intents {
	var v Intents
	for _, bit := range intentNames {
		v |= bit
	}
	return v
}

// DefaultIntents is every intent except the privileged ones (members,
// presences and message content).
func DefaultIntents() Intents {
	return AllIntents() &^ (IntentMembers | IntentPresences | IntentMessageContent)
}

// Has reports whether all bits of other are set.
func (i Intents) Has(other Intents) bool {
	return i&other == other
}

// ParseIntents combines intent names into a bitmask. The special names
// "all", "default" and "none" select presets.
func ParseIntents(names []string) (Intents, error) {
	var v Intents
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
			continue
		case "all":
			v |= AllIntents()
		case "default":
			v |= DefaultIntents()
		case "none":
		default:
			if bit, ok := intentNames[name]; ok {
				v |= bit
			} else if group, ok := intentGroups[name]; ok {
				v |= group
			} else {
				return 0, fmt.Errorf("unknown intent %q", raw)
			}
		}
	}
	return v, nil
}

// Names returns the sorted names of the individual bits that are set.
func (i Intents) Names() []string {
	var names []string
	for name, bit := range intentNames {
		if i.Has(bit) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
