package generate

import (
	"fmt"
	"strings"

	"neighbor-assist/pkg/profile"
)

const systemPrompt = "You help neighbors exchange skills and items. Be warm, brief and concrete."

func explainPrompt(viewer, candidate profile.Profile) string {
	var b strings.Builder
	b.WriteString("In one or two sentences, tell the viewer why this neighbor is a good match. Address the viewer as \"you\". Reply with the sentence only.\n\n")
	describe(&b, "Viewer", viewer)
	describe(&b, "Neighbor", candidate)
	return b.String()
}

func suggestPrompt(sender, receiver profile.Profile, context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d short, friendly opening messages the sender could send to the receiver. ", suggestionCount)
	b.WriteString(`Reply with JSON only, in the form {"suggestions": ["...", "...", "..."]}.`)
	b.WriteString("\n\n")
	describe(&b, "Sender", sender)
	describe(&b, "Receiver", receiver)
	if c := strings.TrimSpace(context); c != "" {
		fmt.Fprintf(&b, "Context: %s\n", c)
	}
	return b.String()
}

func translatePrompt(text, source, target string) string {
	from := "the detected language"
	if name, ok := profile.LanguageName(source); ok {
		from = name
	}
	to, _ := profile.LanguageName(target)

	return fmt.Sprintf("Translate the following message from %s to %s. Keep the tone. Reply with the translation only.\n\n%s", from, to, text)
}

func requiredSkillsPrompt(emergencyType string) string {
	return fmt.Sprintf("List up to %d skills a neighbor should have to help with a %q emergency. "+
		`Reply with a JSON array of skill names only, e.g. ["First Aid", "CPR"].`,
		maxRequiredSkills, strings.ReplaceAll(emergencyType, "_", " "))
}

func describe(b *strings.Builder, role string, p profile.Profile) {
	fmt.Fprintf(b, "%s: %s\n", role, p.DisplayName("unnamed"))
	writeOfferings(b, "offers skills", p.SkillsOffered)
	writeOfferings(b, "offers items", p.ItemsOffered)
	writeOfferings(b, "needs skills", p.SkillsNeeded)
	writeOfferings(b, "needs items", p.ItemsNeeded)
	if p.IsNew {
		b.WriteString("  new to the neighborhood\n")
	}
}

func writeOfferings(b *strings.Builder, label string, list []profile.Offering) {
	names := make([]string, 0, len(list))
	for _, o := range list {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			continue
		}
		if o.Category != "" {
			name += " (" + o.Category + ")"
		}
		names = append(names, name)
	}
	if len(names) > 0 {
		fmt.Fprintf(b, "  %s: %s\n", label, strings.Join(names, ", "))
	}
}
