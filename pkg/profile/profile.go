// Package profile holds the read-only participant records the assist
// features work from.
package profile

import "strings"

// Offering is a skill or item a participant offers or needs.
type Offering struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Profile is a participant as seen by the assist features.
type Profile struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	SkillsOffered     []Offering `json:"skillsOffered,omitempty"`
	SkillsNeeded      []Offering `json:"skillsNeeded,omitempty"`
	ItemsOffered      []Offering `json:"itemsOffered,omitempty"`
	ItemsNeeded       []Offering `json:"itemsNeeded,omitempty"`
	IsNew             bool       `json:"isNew,omitempty"`
	PreferredLanguage string     `json:"preferredLanguage,omitempty"`
}

// Offers returns offered skills followed by offered items.
func (p Profile) Offers() []Offering {
	return concat(p.SkillsOffered, p.ItemsOffered)
}

// Needs returns needed skills followed by needed items.
func (p Profile) Needs() []Offering {
	return concat(p.SkillsNeeded, p.ItemsNeeded)
}

// FirstOffer returns the name of the first offered skill, else the first
// offered item, else "".
func (p Profile) FirstOffer() string {
	for _, o := range p.Offers() {
		if name := strings.TrimSpace(o.Name); name != "" {
			return name
		}
	}
	return ""
}

// DisplayName returns the trimmed name, or fallback when it is blank.
func (p Profile) DisplayName(fallback string) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return fallback
}

func concat(a, b []Offering) []Offering {
	out := make([]Offering, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
