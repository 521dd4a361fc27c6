package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/poirot-research/poirot/internal/domain"
	"github.com/poirot-research/poirot/internal/store"
)

const (
	KindAuthor      = "author"
	KindInstitution = "institution"
	KindPaper       = "paper"
	KindTopic       = "topic"

	EdgeAffiliatedWith = "affiliated_with"
	EdgeAuthoredBy     = "authored_by"
)

// PutAuthor stores an author entity with its tags and, when the affiliation
// names an institution, the institution entity and an affiliated_with edge.
// Everything is written in one script. It returns the author's entity id.
func (c *Catalog) PutAuthor(ctx context.Context, a domain.Author) (string, error) {
	if a.Name.First == "" || a.Name.Last == "" {
		return "", domain.ErrMissingName
	}
	id := a.ID()
	props := map[string]any{
		"first": a.Name.First,
		"last":  a.Name.Last,
	}
	if a.Name.Middle != "" {
		props["middle"] = a.Name.Middle
	}
	if a.ORCID != "" {
		props["orcid"] = string(a.ORCID)
	}
	author := Entity{
		ID:      id,
		Kind:    KindAuthor,
		Title:   a.Name.String(),
		Authors: []string{a.Name.String()},
		Props:   props,
	}
	if a.ORCID != "" {
		author.URI = "https://orcid.org/" + string(a.ORCID)
	}
	cols, err := author.columns()
	if err != nil {
		return "", err
	}

	var script strings.Builder
	script.WriteString(upsertEntity + ";\n")
	params := store.Params(cols)

	if a.Affiliation != nil && a.Affiliation.Institution != "" {
		inst := Entity{
			ID:    a.Affiliation.InstitutionID(),
			Kind:  KindInstitution,
			Title: a.Affiliation.Institution,
		}
		if a.Affiliation.Country != "" {
			inst.Props = map[string]any{"country": a.Affiliation.Country}
		}
		icols, err := inst.columns()
		if err != nil {
			return "", err
		}
		// An institution already on file keeps its own fields.
		script.WriteString(`INSERT INTO entity (id, kind, title, authors, uri, year, props)
VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING;
`)
		params = append(params, icols...)

		edgeProps := map[string]any{}
		if a.Affiliation.Department != "" {
			edgeProps["department"] = a.Affiliation.Department
		}
		if a.Affiliation.Address != "" {
			edgeProps["address"] = a.Affiliation.Address
		}
		ep, err := encodeProps(edgeProps)
		if err != nil {
			return "", err
		}
		script.WriteString(`INSERT INTO edge (src, dst, kind, props) VALUES (?, ?, ?, ?)
ON CONFLICT(src, dst, kind) DO UPDATE SET props = excluded.props;
`)
		params = append(params, id, inst.ID, EdgeAffiliatedWith, ep)
	}

	for _, t := range a.Tags {
		script.WriteString("INSERT OR IGNORE INTO tag (name) VALUES (?);\n")
		script.WriteString("INSERT OR IGNORE INTO entity_tag (entity_id, tag_name) VALUES (?, ?);\n")
		params = append(params, t, id, t)
	}

	if _, err := c.st.Execute(ctx, script.String(), params, store.Mutable); err != nil {
		return "", fmt.Errorf("put author %q: %w", id, err)
	}
	c.log.DebugContext(ctx, "author stored", "id", id, "tags", len(a.Tags))
	return id, nil
}
