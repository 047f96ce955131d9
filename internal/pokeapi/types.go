package pokeapi

import "github.com/kalambet/pokedex/internal/catalog"

// ListResponse mirrors the JSON returned by GET /pokemon?limit=&offset=.
type ListResponse struct {
	Count   int     `json:"count"`
	Next    string  `json:"next"`
	Results []Entry `json:"results"`
}

// Entry is one row of a list page.
type Entry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// NamedResource is PokeAPI's {name, url} reference.
type NamedResource struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// DetailResponse mirrors the subset of GET /pokemon/{id} the catalog uses.
type DetailResponse struct {
	ID             int             `json:"id"`
	Name           string          `json:"name"`
	Types          []TypeSlot      `json:"types"`
	Sprites        Sprites         `json:"sprites"`
	Height         int             `json:"height"`
	Weight         int             `json:"weight"`
	BaseExperience int             `json:"base_experience"`
	Forms          []NamedResource `json:"forms"`
}

type TypeSlot struct {
	Slot int           `json:"slot"`
	Type NamedResource `json:"type"`
}

type Sprites struct {
	Other struct {
		OfficialArtwork struct {
			FrontDefault string `json:"front_default"`
		} `json:"official-artwork"`
	} `json:"other"`
}

// ArtworkURL returns the official artwork URL, or "" when upstream has none.
func (d DetailResponse) ArtworkURL() string {
	return d.Sprites.Other.OfficialArtwork.FrontDefault
}

// TypeNames returns the capitalized type names in slot order.
func (d DetailResponse) TypeNames() []string {
	names := make([]string, 0, len(d.Types))
	for _, t := range d.Types {
		names = append(names, catalog.Capitalize(t.Type.Name))
	}
	return names
}

// Item converts the detail payload into a catalog item with the given artwork.
func (d DetailResponse) Item(image []byte) catalog.Item {
	return catalog.Item{
		ID:             d.ID,
		Name:           catalog.Capitalize(d.Name),
		Number:         catalog.DisplayNumber(d.ID),
		Types:          d.TypeNames(),
		Image:          image,
		Height:         d.Height,
		Weight:         d.Weight,
		BaseExperience: d.BaseExperience,
	}
}

// speciesPayload mirrors GET /pokemon-species/{name} before localization.
type speciesPayload struct {
	FlavorTextEntries []struct {
		FlavorText string        `json:"flavor_text"`
		Language   NamedResource `json:"language"`
	} `json:"flavor_text_entries"`
	Genera []struct {
		Genus    string        `json:"genus"`
		Language NamedResource `json:"language"`
	} `json:"genera"`
	Varieties []struct {
		IsDefault bool `json:"is_default"`
	} `json:"varieties"`
}

// Species is the localized species payload.
type Species struct {
	Description  string
	Genus        string
	VarietyCount int
}

// localize picks the first flavor text and genus for lang.
func (p speciesPayload) localize(lang string) Species {
	s := Species{
		Description:  catalog.DescriptionPlaceholder,
		Genus:        catalog.GenusUnknown,
		VarietyCount: len(p.Varieties),
	}
	for _, e := range p.FlavorTextEntries {
		if e.Language.Name == lang {
			s.Description = catalog.NormalizeDescription(e.FlavorText)
			break
		}
	}
	for _, g := range p.Genera {
		if g.Language.Name == lang {
			s.Genus = g.Genus
			break
		}
	}
	return s
}
