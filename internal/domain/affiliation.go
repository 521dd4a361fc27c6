package domain

import "strings"

// Affiliation is where an author works. Every part is optional.
type Affiliation struct {
	Institution string `json:"institution,omitempty"`
	Department  string `json:"department,omitempty"`
	Address     string `json:"address,omitempty"`
	Country     string `json:"country,omitempty"`
}

// ParseAffiliation reads "institution; department; address; country".
// Missing or blank parts stay empty; parts past the fourth are ignored.
func ParseAffiliation(s string) Affiliation {
	parts := strings.Split(s, ";")
	get := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}
	return Affiliation{
		Institution: get(0),
		Department:  get(1),
		Address:     get(2),
		Country:     get(3),
	}
}

// IsZero reports whether no part is set.
func (a Affiliation) IsZero() bool {
	return a == Affiliation{}
}

func (a Affiliation) String() string {
	parts := []string{a.Institution, a.Department, a.Address, a.Country}
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "; ")
}

// InstitutionID is the entity id of the affiliation's institution, empty
// when no institution is named.
func (a Affiliation) InstitutionID() string {
	if a.Institution == "" {
		return ""
	}
	return "institution:" + slug(a.Institution)
}
