// Package domain holds validated academic records. Constructors either
// return a complete value or an error naming what is wrong with the input.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingName  = errors.New("missing author name")
	ErrInvalidORCID = errors.New("invalid ORCID format")
)

// Name is a person's name. Middle is optional.
type Name struct {
	First  string `json:"first"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last"`
}

// NewName requires first and last. Surrounding whitespace is dropped.
func NewName(first, middle, last string) (Name, error) {
	n := Name{
		First:  strings.TrimSpace(first),
		Middle: strings.TrimSpace(middle),
		Last:   strings.TrimSpace(last),
	}
	if n.First == "" || n.Last == "" {
		return Name{}, ErrMissingName
	}
	return n, nil
}

// ParseName splits "First Last" or "First Middle Last".
func ParseName(s string) (Name, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 2:
		return NewName(parts[0], "", parts[1])
	case 3:
		return NewName(parts[0], parts[1], parts[2])
	default:
		return Name{}, fmt.Errorf("%w: %q is not \"first [middle] last\"", ErrMissingName, s)
	}
}

func (n Name) String() string {
	if n.Middle == "" {
		return n.First + " " + n.Last
	}
	return n.First + " " + n.Middle + " " + n.Last
}

// ORCID is an author identifier of the form 0000-0002-1825-0097.
type ORCID string

// ParseORCID accepts four dash-separated groups of four digits.
func ParseORCID(s string) (ORCID, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return "", fmt.Errorf("%w: %q", ErrInvalidORCID, s)
	}
	for _, p := range parts {
		if len(p) != 4 {
			return "", fmt.Errorf("%w: %q", ErrInvalidORCID, s)
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return "", fmt.Errorf("%w: %q", ErrInvalidORCID, s)
			}
		}
	}
	return ORCID(s), nil
}

// Author is a validated author record.
type Author struct {
	Name        Name         `json:"name"`
	ORCID       ORCID        `json:"orcid,omitempty"`
	Affiliation *Affiliation `json:"affiliation,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
}

// AuthorOption sets an optional Author field.
type AuthorOption func(*Author) error

// WithORCID parses and sets the identifier.
func WithORCID(s string) AuthorOption {
	return func(a *Author) error {
		id, err := ParseORCID(s)
		if err != nil {
			return err
		}
		a.ORCID = id
		return nil
	}
}

// WithAffiliation parses "institution; department; address; country".
func WithAffiliation(s string) AuthorOption {
	return func(a *Author) error {
		aff := ParseAffiliation(s)
		a.Affiliation = &aff
		return nil
	}
}

// WithTags sets the author's tags. Blank and repeated tags are dropped.
func WithTags(tags ...string) AuthorOption {
	return func(a *Author) error {
		seen := make(map[string]bool, len(tags))
		a.Tags = a.Tags[:0]
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			a.Tags = append(a.Tags, t)
		}
		return nil
	}
}

// NewAuthor builds an Author from a validated name and options.
func NewAuthor(name Name, opts ...AuthorOption) (Author, error) {
	if name.First == "" || name.Last == "" {
		return Author{}, ErrMissingName
	}
	a := Author{Name: name}
	for _, opt := range opts {
		if err := opt(&a); err != nil {
			return Author{}, err
		}
	}
	return a, nil
}

// ID is the entity id an author is stored under: the ORCID when known,
// otherwise a slug of the name.
func (a Author) ID() string {
	if a.ORCID != "" {
		return "orcid:" + string(a.ORCID)
	}
	return "author:" + slug(a.Name.String())
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
