package fallback

import (
	"fmt"
	"strings"

	"neighbor-assist/pkg/profile"
)

// SuggestionCount is the number of message suggestions always returned.
const SuggestionCount = 3

// Suggestions returns exactly SuggestionCount opening messages from sender
// to receiver. A non-blank context is worked into the second message.
func Suggestions(sender, receiver profile.Profile, context string) []string {
	name := receiver.DisplayName("there")
	skill := receiver.FirstOffer()
	if skill == "" {
		skill = "your skills"
	}

	second := fmt.Sprintf("Hello %s, I'm interested in %s. When would be a good time to chat?", name, skill)
	if c := strings.TrimSpace(context); c != "" {
		second = fmt.Sprintf("Hello %s, I'm reaching out about %s. Could you help with %s?", name, c, skill)
	}

	third := fmt.Sprintf("Hey %s! Thanks for being part of the neighborhood. Let me know if I can help you with anything too.", name)
	if offer := sender.FirstOffer(); offer != "" {
		third = fmt.Sprintf("Hey %s! I can help with %s in return if that's useful to you.", name, offer)
	}

	return []string{
		fmt.Sprintf("Hi %s! I saw you offer %s. Would you be open to helping me?", name, skill),
		second,
		third,
	}
}

// PadSuggestions trims got to SuggestionCount entries, dropping blanks, and
// fills any shortfall from the deterministic suggestions.
func PadSuggestions(got []string, sender, receiver profile.Profile, context string) []string {
	out := make([]string, 0, SuggestionCount)
	for _, s := range got {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == SuggestionCount {
			return out
		}
	}

	for _, s := range Suggestions(sender, receiver, context) {
		if len(out) == SuggestionCount {
			break
		}
		out = append(out, s)
	}
	return out
}
