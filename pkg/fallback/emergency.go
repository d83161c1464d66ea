package fallback

import "strings"

var requiredSkills = map[string][]string{
	"medical":        {"First Aid", "CPR", "Nursing"},
	"fire":           {"Firefighting", "First Aid", "Evacuation"},
	"flood":          {"Swimming", "Boat Operation", "First Aid"},
	"earthquake":     {"Search and Rescue", "First Aid", "Construction"},
	"power_outage":   {"Electrical", "Generator Operation"},
	"missing_person": {"Search and Rescue", "Navigation"},
	"elderly_care":   {"Caregiving", "First Aid"},
	"pet_rescue":     {"Animal Care", "Veterinary"},
}

var defaultSkills = []string{"First Aid", "Communication"}

// NormalizeEmergencyType lowercases t and joins words with underscores.
func NormalizeEmergencyType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.Join(strings.FieldsFunc(t, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

// RequiredSkills returns the skills typically needed for an emergency
// type. Unknown types get a general-purpose list.
func RequiredSkills(emergencyType string) []string {
	skills, ok := requiredSkills[NormalizeEmergencyType(emergencyType)]
	if !ok {
		skills = defaultSkills
	}
	return append([]string(nil), skills...)
}
