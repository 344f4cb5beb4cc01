// Package healthevents extracts structured damage, healing, and status
// events from transcript segments. A cheap keyword gate bounds model-call
// volume; the model names players from the campaign roster and every
// extracted event waits for explicit DM confirmation before any HP
// changes. Rejecting an event leaves HP untouched.
package healthevents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Jaaaxx/DnD-Companion/internal/campaign"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
	"github.com/Jaaaxx/DnD-Companion/pkg/store"
)

// gatePattern is the broad damage/heal/status vocabulary that must appear
// in a segment before the extraction model is consulted. It exists purely
// to bound cost; false positives are fine, the model filters them.
var gatePattern = regexp.MustCompile(`(?i)\b(damage|hit points?|hp\b|heal(s|ed|ing)?|hurts?|wound(s|ed)?|takes?\s+\d+|loses?\s+\d+|regains?|poison(s|ed)?|stunn?(s|ed)?|paralyz(es|ed)?|blind(s|ed)?|frighten(s|ed)?|charm(s|ed)?|unconscious|drops?\s+to\s+(zero|0)|down(s|ed)?\b|bleed(s|ing)?|restor(es|ed))`)

// ShouldExtract reports whether a segment's text passes the keyword gate.
func ShouldExtract(text string) bool {
	return gatePattern.MatchString(text)
}

// EventType classifies an extracted event.
type EventType string

const (
	TypeDamage  EventType = "damage"
	TypeHealing EventType = "healing"
	TypeStatus  EventType = "status"
)

// Event is one extracted, persisted-but-unconfirmed health event together
// with the detail the persistence record does not carry.
type Event struct {
	store.HealthEvent

	Type EventType

	// StatusEffect names the condition for status events ("poisoned",
	// "stunned"). Empty for damage and healing.
	StatusEffect string
}

const extractionPrompt = `You extract game-state changes from a tabletop RPG session transcript. The known player characters are:
%s

From the given text, extract zero or more health events affecting those characters. Only report events that clearly happened; never guess. Use the exact character names listed above.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"events": [{"player": "<character name>", "type": "damage" | "healing" | "status", "value": <number, omit for status>, "statusEffect": "<condition, only for status>", "description": "<one short sentence>"}]}

Return {"events": []} when nothing happened.`

// rawEvent mirrors one entry of the extraction model reply.
type rawEvent struct {
	Player       string  `json:"player"`
	Type         string  `json:"type"`
	Value        float64 `json:"value"`
	StatusEffect string  `json:"statusEffect"`
	Description  string  `json:"description"`
}

// Extractor runs the gated extraction pass for one session. Safe for
// concurrent use; roster HP mutation goes through Resolve only.
type Extractor struct {
	llm   llm.Provider
	store store.Store
	camp  *campaign.Context
}

// New creates an Extractor bound to a campaign context. provider may be
// nil, which disables extraction entirely (Extract returns no events).
func New(provider llm.Provider, st store.Store, camp *campaign.Context) *Extractor {
	return &Extractor{llm: provider, store: st, camp: camp}
}

// Extract asks the model for health events in text, keeps only events
// naming a roster character (case-insensitive exact match, unmatched names
// are dropped silently), and persists each as unresolved. Callers should
// gate with [ShouldExtract] first.
func (e *Extractor) Extract(ctx context.Context, text string) ([]Event, error) {
	if e.llm == nil || len(e.camp.Players) == 0 {
		return nil, nil
	}

	var roster strings.Builder
	for _, p := range e.camp.Players {
		fmt.Fprintf(&roster, "- %s (%d/%d HP)\n", p.CharacterName, p.Hp, p.MaxHp)
	}

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(extractionPrompt, roster.String()),
		Temperature:  0.1,
		Messages: []llm.Message{
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("healthevents: extraction call: %w", err)
	}

	var parsed struct {
		Events []rawEvent `json:"events"`
	}
	if err := json.Unmarshal([]byte(stripMarkdown(resp.Content)), &parsed); err != nil {
		// Malformed model output is treated as "nothing detected".
		return nil, nil
	}

	var out []Event
	for _, raw := range parsed.Events {
		ev, ok := e.accept(raw)
		if !ok {
			continue
		}
		if err := e.store.CreateHealthEvent(ctx, &ev.HealthEvent); err != nil {
			return out, fmt.Errorf("healthevents: persist event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// accept validates one raw model event against the roster and converts it.
func (e *Extractor) accept(raw rawEvent) (Event, bool) {
	player, ok := e.camp.FindPlayer(raw.Player)
	if !ok {
		return Event{}, false
	}

	ev := Event{
		HealthEvent: store.HealthEvent{
			SessionID:     e.camp.SessionID,
			PlayerID:      player.ID,
			CharacterName: player.CharacterName,
			Description:   strings.TrimSpace(raw.Description),
		},
	}
	value := int(raw.Value)
	switch EventType(raw.Type) {
	case TypeDamage:
		if value <= 0 {
			return Event{}, false
		}
		ev.Type = TypeDamage
		ev.Delta = -value
	case TypeHealing:
		if value <= 0 {
			return Event{}, false
		}
		ev.Type = TypeHealing
		ev.Delta = value
	case TypeStatus:
		if raw.StatusEffect == "" {
			return Event{}, false
		}
		ev.Type = TypeStatus
		ev.StatusEffect = strings.TrimSpace(raw.StatusEffect)
	default:
		return Event{}, false
	}
	return ev, true
}

// Resolve applies a DM confirm or reject to a pending event. On confirm,
// the HP delta (magnitude overridable via modifiedValue, sign kept from
// the original event) is applied to the player clamped to [0, maxHp] and
// the updated roster entry is returned. Rejection and status events never
// touch HP. Returns store.ErrNotFound for unknown or already resolved
// events.
func (e *Extractor) Resolve(ctx context.Context, eventID string, confirmed bool, modifiedValue *int) (*store.HealthEvent, *campaign.Player, error) {
	ev, err := e.store.ResolveHealthEvent(ctx, eventID, confirmed)
	if err != nil {
		return nil, nil, fmt.Errorf("healthevents: resolve %s: %w", eventID, err)
	}
	if !confirmed || ev.Delta == 0 {
		return ev, nil, nil
	}

	delta := ev.Delta
	if modifiedValue != nil {
		if delta < 0 {
			delta = -*modifiedValue
		} else {
			delta = *modifiedValue
		}
	}

	player, ok := e.camp.FindPlayer(ev.CharacterName)
	if !ok {
		// Roster changed since extraction; the event stays resolved but
		// there is no HP to apply it to.
		return ev, nil, nil
	}

	hp := player.Hp + delta
	if hp < 0 {
		hp = 0
	}
	if hp > player.MaxHp {
		hp = player.MaxHp
	}
	if err := e.store.UpdatePlayerHP(ctx, player.ID, hp); err != nil {
		return ev, nil, fmt.Errorf("healthevents: update hp for %s: %w", player.ID, err)
	}
	player.Hp = hp
	return ev, player, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```).
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
