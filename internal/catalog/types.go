package catalog

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DescriptionPlaceholder is used when upstream has no flavor text in the configured language.
	DescriptionPlaceholder = "No description available."
	// GenusUnknown is used when upstream has no genus in the configured language.
	GenusUnknown = "Unknown"
)

// Item is a single catalog entry as shown in a list page.
type Item struct {
	ID             int
	Name           string
	Number         string
	Types          []string
	Image          []byte // nil when the artwork could not be fetched
	Height         int
	Weight         int
	BaseExperience int
}

// Detail is the extended description of one item.
type Detail struct {
	ID             int
	Name           string
	Description    string
	Height         int
	Weight         int
	BaseExperience int
	Genus          string
	Types          []string
	VarietyCount   int
}

// IsEmpty reports whether the detail carries no description.
func (d Detail) IsEmpty() bool {
	return d.Description == ""
}

// DisplayNumber formats an id the way it is presented in lists, e.g. "#007".
func DisplayNumber(id int) string {
	return fmt.Sprintf("#%03d", id)
}

// Capitalize upper-cases the first rune of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// NormalizeDescription replaces the line breaks and form feeds embedded in
// upstream flavor text with plain spaces.
func NormalizeDescription(s string) string {
	return strings.NewReplacer("\n", " ", "\f", " ").Replace(s)
}
