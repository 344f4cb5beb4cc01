// Package campaign holds the domain entities loaded for a game session:
// player characters, NPCs, and the sound mappings the DM configured for
// the campaign. These are read-mostly; only player HP mutates during a
// session.
package campaign

import "strings"

// Player is a player character in the campaign roster.
type Player struct {
	ID            string `json:"id"`
	CharacterName string `json:"characterName"`
	PlayerName    string `json:"playerName,omitempty"`
	Hp            int    `json:"hp"`
	MaxHp         int    `json:"maxHp"`
}

// NPC is a non-player character known to the campaign.
type NPC struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TriggerType classifies how a sound mapping fires.
type TriggerType string

const (
	// TriggerKeyword fires when a transcript segment contains the keyword.
	TriggerKeyword TriggerType = "keyword"
	// TriggerScene fires when scene classification matches the value.
	TriggerScene TriggerType = "scene"
	// TriggerManual fires only on an explicit DM action.
	TriggerManual TriggerType = "manual"
)

// SoundMapping binds a trigger to an audio asset configured by the DM.
type SoundMapping struct {
	ID           string      `json:"id"`
	TriggerType  TriggerType `json:"triggerType"`
	TriggerValue string      `json:"triggerValue"`
	AudioURL     string      `json:"audioUrl"`
	Label        string      `json:"label,omitempty"`
	Volume       float64     `json:"volume,omitempty"`
	Loop         bool        `json:"loop"`
	CrossfadeMs  int         `json:"crossfadeMs,omitempty"`
}

// Context is everything the pipelines need to know about a campaign for
// one live session.
type Context struct {
	SessionID     string
	Players       []Player
	NPCs          []NPC
	SoundMappings []SoundMapping

	// WorldContext is free-form DM-authored lore handed to the language
	// models as background.
	WorldContext string
}

// EntityNames returns every proper noun in the campaign roster, deduplicated
// case-insensitively with first-seen casing preserved. Used for STT keyword
// boosting and correction dictionaries.
func (c *Context) EntityNames() []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(n string) {
		n = strings.TrimSpace(n)
		if n == "" {
			return
		}
		key := strings.ToLower(n)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		names = append(names, n)
	}
	for _, p := range c.Players {
		add(p.CharacterName)
		add(p.PlayerName)
	}
	for _, n := range c.NPCs {
		add(n.Name)
	}
	return names
}

// FindPlayer returns the roster entry whose character name equals name,
// compared case-insensitively. The second return is false when no entry
// matches exactly.
func (c *Context) FindPlayer(name string) (*Player, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for i := range c.Players {
		if strings.ToLower(c.Players[i].CharacterName) == want {
			return &c.Players[i], true
		}
	}
	return nil, false
}
