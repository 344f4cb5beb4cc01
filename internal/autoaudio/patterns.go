package autoaudio

import "regexp"

// Rule is one fast-path pattern: a regex over segment text mapped to a set
// of effect search query variants. One variant is picked at random per
// firing so repeated hits do not always resolve to the same track.
type Rule struct {
	Name    string
	re      *regexp.Regexp
	Queries []string
}

// Matches reports whether the rule fires for the given text.
func (r *Rule) Matches(text string) bool {
	return r.re.MatchString(text)
}

// effectRules is the built-in pattern library, checked in order. These
// cover the table moments that come up constantly and would be wasteful to
// send to the suggestion model.
var effectRules = []Rule{
	{
		Name: "initiative",
		re:   regexp.MustCompile(`(?i)\broll\s+(for\s+)?initiative\b`),
		Queries: []string{
			"sword unsheathe battle start",
			"war drums battle begin",
			"battle horn charge",
		},
	},
	{
		Name: "fireball",
		re:   regexp.MustCompile(`(?i)\b(cast(s|ing)?\s+)?fire\s?ball\b`),
		Queries: []string{
			"fireball explosion fire burst magic flame blast",
			"fire explosion whoosh magic",
			"flame burst spell impact",
		},
	},
	{
		Name: "spellcasting",
		re:   regexp.MustCompile(`(?i)\bI\s+cast\b|\bcasts?\s+(a\s+)?spell\b|\bmagic\s+missile\b|\bcounterspell\b`),
		Queries: []string{
			"magic spell cast shimmer arcane",
			"spell whoosh magical energy",
			"arcane magic chime",
		},
	},
	{
		Name: "critical hit",
		re:   regexp.MustCompile(`(?i)\b(nat(ural)?\s*20|crit(ical)?\s+hit)\b`),
		Queries: []string{
			"sword critical impact slash",
			"heavy weapon hit crunch",
			"triumphant impact hit",
		},
	},
	{
		Name: "critical fail",
		re:   regexp.MustCompile(`(?i)\b(nat(ural)?\s*1\b|crit(ical)?\s+(fail|miss))`),
		Queries: []string{
			"comedic fail slide whistle",
			"weapon clatter drop fumble",
			"sad trombone fail",
		},
	},
	{
		Name: "door",
		re:   regexp.MustCompile(`(?i)\b(open|close|kick|break|bash)(s|ed|ing)?\s+(down\s+)?the\s+door\b|\bdoor\s+(creak|slam)`),
		Queries: []string{
			"wooden door creak open",
			"heavy door slam",
			"dungeon door open creak",
		},
	},
	{
		Name: "thunder",
		re:   regexp.MustCompile(`(?i)\b(thunder|lightning|storm)(s|ing)?\b`),
		Queries: []string{
			"thunder crack lightning storm",
			"distant thunder rumble",
			"thunderstorm strike",
		},
	},
	{
		Name: "death save",
		re:   regexp.MustCompile(`(?i)\bdeath\s+sav(e|ing)\b|\bunconscious\b|\bdrops?\s+to\s+(zero|0)\b`),
		Queries: []string{
			"heartbeat slow tense",
			"ominous heartbeat drone",
			"tense low pulse",
		},
	},
	{
		Name: "roar",
		re:   regexp.MustCompile(`(?i)\b(roar|growl|snarl|screech)(s|ed|ing)?\b`),
		Queries: []string{
			"monster roar deep creature",
			"dragon roar growl",
			"beast growl menace",
		},
	},
}

// matchEffectRule returns the first rule matching the text, or nil.
func matchEffectRule(text string) *Rule {
	for i := range effectRules {
		if effectRules[i].Matches(text) {
			return &effectRules[i]
		}
	}
	return nil
}
