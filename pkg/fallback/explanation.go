// Package fallback produces deterministic substitutes for generated text.
// Every function is pure: no I/O, no randomness, no panics on empty input.
package fallback

import (
	"fmt"
	"strings"

	"neighbor-assist/pkg/profile"
)

// Explanation says why candidate is a good match for viewer. Exactly one
// rule fires, in this order: something the candidate offers that the
// viewer needs, something the viewer offers that the candidate needs, a
// shared skill category, a welcome for new neighbors, the candidate's
// first offer, a generic invitation.
func Explanation(viewer, candidate profile.Profile) string {
	name := candidate.DisplayName("This neighbor")

	if offer, ok := firstMatch(candidate.Offers(), viewer.Needs()); ok {
		return fmt.Sprintf("%s can help with %s, which you're looking for.", name, offer)
	}

	if offer, ok := firstMatch(viewer.Offers(), candidate.Needs()); ok {
		return fmt.Sprintf("You could help %s with %s.", name, offer)
	}

	if category, ok := sharedCategory(viewer, candidate); ok {
		return fmt.Sprintf("You both share an interest in %s.", category)
	}

	if candidate.IsNew {
		return fmt.Sprintf("%s is new to the neighborhood. Say hello and make them feel welcome!", name)
	}

	if offer := candidate.FirstOffer(); offer != "" {
		return fmt.Sprintf("%s offers %s.", name, offer)
	}

	return fmt.Sprintf("Connect with %s to see how you can help each other.", name)
}

// firstMatch returns the first offer whose name contains, or is contained
// in, some need name, ignoring case.
func firstMatch(offers, needs []profile.Offering) (string, bool) {
	for _, need := range needs {
		n := strings.ToLower(strings.TrimSpace(need.Name))
		if n == "" {
			continue
		}
		for _, offer := range offers {
			o := strings.ToLower(strings.TrimSpace(offer.Name))
			if o == "" {
				continue
			}
			if strings.Contains(o, n) || strings.Contains(n, o) {
				return strings.TrimSpace(offer.Name), true
			}
		}
	}
	return "", false
}

// sharedCategory returns the first category of the viewer's skills that
// also appears among the candidate's skills.
func sharedCategory(viewer, candidate profile.Profile) (string, bool) {
	theirs := make(map[string]struct{})
	for _, s := range append(append([]profile.Offering(nil), candidate.SkillsOffered...), candidate.SkillsNeeded...) {
		if c := strings.ToLower(strings.TrimSpace(s.Category)); c != "" {
			theirs[c] = struct{}{}
		}
	}

	for _, s := range append(append([]profile.Offering(nil), viewer.SkillsOffered...), viewer.SkillsNeeded...) {
		c := strings.TrimSpace(s.Category)
		if c == "" {
			continue
		}
		if _, ok := theirs[strings.ToLower(c)]; ok {
			return c, true
		}
	}
	return "", false
}
