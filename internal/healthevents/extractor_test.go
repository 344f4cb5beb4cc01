package healthevents_test

import (
	"context"
	"testing"

	"github.com/Jaaaxx/DnD-Companion/internal/campaign"
	"github.com/Jaaaxx/DnD-Companion/internal/healthevents"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
	llmmock "github.com/Jaaaxx/DnD-Companion/pkg/provider/llm/mock"
	storemock "github.com/Jaaaxx/DnD-Companion/pkg/store/mock"
)

func roster() *campaign.Context {
	return &campaign.Context{
		SessionID: "sess1",
		Players: []campaign.Player{
			{ID: "p1", CharacterName: "Eldrinax", Hp: 30, MaxHp: 45},
			{ID: "p2", CharacterName: "Thornwick", Hp: 12, MaxHp: 20},
		},
	}
}

func TestShouldExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"Eldrinax takes 12 points of damage", true},
		{"Thornwick regains 5 hit points", true},
		{"you are poisoned by the dart", true},
		{"she drops to zero and falls", true},
		{"the party walks into the tavern", false},
		{"roll for initiative", false},
	}
	for _, tc := range tests {
		if got := healthevents.ShouldExtract(tc.text); got != tc.want {
			t.Errorf("ShouldExtract(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestExtractDamageEvent(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"events": [{"player": "eldrinax", "type": "damage", "value": 12, "description": "Hit by the ogre's club."}]}`,
	}}
	ex := healthevents.New(p, st, roster())

	events, err := ex.Extract(context.Background(), "Eldrinax takes 12 damage from the club")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %+v, want 1", events)
	}
	ev := events[0]
	if ev.Type != healthevents.TypeDamage || ev.Delta != -12 {
		t.Errorf("event = %+v, want damage delta -12", ev)
	}
	if ev.CharacterName != "Eldrinax" || ev.PlayerID != "p1" {
		t.Errorf("roster match = %q/%q, want canonical Eldrinax/p1", ev.CharacterName, ev.PlayerID)
	}
	if ev.Resolved || ev.Confirmed {
		t.Error("freshly extracted event must be unresolved")
	}
	if len(st.HealthEvents) != 1 {
		t.Fatalf("persisted events = %d, want 1", len(st.HealthEvents))
	}
	if hp, ok := st.PlayerHP["p1"]; ok {
		t.Errorf("HP mutated to %d before confirmation", hp)
	}
}

func TestExtractDropsUnknownNames(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"events": [
			{"player": "Gandalf", "type": "damage", "value": 5, "description": "not in this campaign"},
			{"player": "Thornwick", "type": "healing", "value": 4, "description": "Drinks a potion."}
		]}`,
	}}
	ex := healthevents.New(p, st, roster())

	events, err := ex.Extract(context.Background(), "Thornwick heals")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(events) != 1 || events[0].CharacterName != "Thornwick" || events[0].Delta != 4 {
		t.Fatalf("events = %+v, want only Thornwick +4", events)
	}
}

func TestExtractRejectsInvalidShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `the model rambles instead of emitting JSON`},
		{"zero damage value", `{"events": [{"player": "Eldrinax", "type": "damage", "value": 0, "description": "x"}]}`},
		{"status without effect", `{"events": [{"player": "Eldrinax", "type": "status", "description": "x"}]}`},
		{"unknown type", `{"events": [{"player": "Eldrinax", "type": "buff", "value": 3, "description": "x"}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st := storemock.New()
			p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: tc.content}}
			ex := healthevents.New(p, st, roster())

			events, err := ex.Extract(context.Background(), "takes damage")
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if len(events) != 0 || len(st.HealthEvents) != 0 {
				t.Fatalf("events = %+v, persisted = %d, want none", events, len(st.HealthEvents))
			}
		})
	}
}

func TestExtractStatusEvent(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "```json\n{\"events\": [{\"player\": \"Thornwick\", \"type\": \"status\", \"statusEffect\": \"poisoned\", \"description\": \"Hit by a poison dart.\"}]}\n```",
	}}
	ex := healthevents.New(p, st, roster())

	events, err := ex.Extract(context.Background(), "Thornwick is poisoned")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %+v, want 1", events)
	}
	if events[0].Type != healthevents.TypeStatus || events[0].StatusEffect != "poisoned" || events[0].Delta != 0 {
		t.Errorf("event = %+v", events[0])
	}
}

func TestResolveConfirmAppliesClampedDelta(t *testing.T) {
	t.Parallel()

	camp := roster()
	st := storemock.New()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"events": [{"player": "Eldrinax", "type": "damage", "value": 12, "description": "club hit"}]}`,
	}}
	ex := healthevents.New(p, st, camp)

	events, err := ex.Extract(context.Background(), "takes 12 damage")
	if err != nil || len(events) != 1 {
		t.Fatalf("Extract = %+v, %v", events, err)
	}

	modified := 12
	ev, player, err := ex.Resolve(context.Background(), events[0].ID, true, &modified)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ev.Resolved || !ev.Confirmed {
		t.Errorf("event = %+v, want resolved+confirmed", ev)
	}
	if player == nil || player.Hp != 18 {
		t.Fatalf("player = %+v, want HP 18 (30 - 12)", player)
	}
	if st.PlayerHP["p1"] != 18 {
		t.Errorf("persisted HP = %d, want 18", st.PlayerHP["p1"])
	}

	// Already resolved: a second resolve fails.
	if _, _, err := ex.Resolve(context.Background(), events[0].ID, true, nil); err == nil {
		t.Error("second resolve of the same event succeeded")
	}
}

func TestResolveRejectLeavesHP(t *testing.T) {
	t.Parallel()

	camp := roster()
	st := storemock.New()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"events": [{"player": "Eldrinax", "type": "damage", "value": 12, "description": "club hit"}]}`,
	}}
	ex := healthevents.New(p, st, camp)

	events, err := ex.Extract(context.Background(), "takes 12 damage")
	if err != nil || len(events) != 1 {
		t.Fatalf("Extract = %+v, %v", events, err)
	}

	ev, player, err := ex.Resolve(context.Background(), events[0].ID, false, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ev.Resolved || ev.Confirmed {
		t.Errorf("event = %+v, want resolved+rejected", ev)
	}
	if player != nil {
		t.Errorf("player = %+v, want nil on reject", player)
	}
	if _, ok := st.PlayerHP["p1"]; ok {
		t.Error("reject mutated HP")
	}
	if got, _ := camp.FindPlayer("Eldrinax"); got.Hp != 30 {
		t.Errorf("roster HP = %d, want untouched 30", got.Hp)
	}
}

func TestResolveClampsToBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		text    string
		wantHP  int
	}{
		{
			name:    "damage clamps at zero",
			content: `{"events": [{"player": "Thornwick", "type": "damage", "value": 50, "description": "massive hit"}]}`,
			text:    "takes 50 damage",
			wantHP:  0,
		},
		{
			name:    "healing clamps at max",
			content: `{"events": [{"player": "Thornwick", "type": "healing", "value": 99, "description": "full heal"}]}`,
			text:    "heals 99",
			wantHP:  20,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			camp := roster()
			st := storemock.New()
			p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: tc.content}}
			ex := healthevents.New(p, st, camp)

			events, err := ex.Extract(context.Background(), tc.text)
			if err != nil || len(events) != 1 {
				t.Fatalf("Extract = %+v, %v", events, err)
			}
			_, player, err := ex.Resolve(context.Background(), events[0].ID, true, nil)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if player.Hp != tc.wantHP {
				t.Errorf("HP = %d, want %d", player.Hp, tc.wantHP)
			}
		})
	}
}

func TestExtractDisabledWithoutProvider(t *testing.T) {
	t.Parallel()

	ex := healthevents.New(nil, storemock.New(), roster())
	events, err := ex.Extract(context.Background(), "takes 12 damage")
	if err != nil || events != nil {
		t.Fatalf("Extract = %+v, %v, want nil, nil", events, err)
	}
}
