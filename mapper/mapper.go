// Package mapper turns raw feed records into the column set each local table
// accepts. Mapping never fails: unknown keys are dropped and values that
// cannot be coerced become nil.
package mapper

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"listings_sync/models"
)

// Mapper whitelists and coerces the fields of one entity.
type Mapper struct {
	Entity  models.EntityType
	Allowed map[string]bool
	Numeric map[string]bool
	HTML    map[string]bool
}

func newMapper(entity models.EntityType, allowed, numeric, html []string) *Mapper {
	m := &Mapper{
		Entity:  entity,
		Allowed: make(map[string]bool, len(allowed)),
		Numeric: make(map[string]bool, len(numeric)),
		HTML:    make(map[string]bool, len(html)),
	}
	for _, f := range allowed {
		m.Allowed[f] = true
	}
	for _, f := range numeric {
		m.Allowed[f] = true
		m.Numeric[f] = true
	}
	for _, f := range html {
		m.Allowed[f] = true
		m.HTML[f] = true
	}
	return m
}

// Map returns a new record holding only whitelisted keys. A key absent from
// raw stays absent; a key present with nil stays nil.
func (m *Mapper) Map(raw models.RawRecord) models.Record {
	out := make(models.Record, len(m.Allowed))
	for k, v := range raw {
		if !m.Allowed[k] {
			continue
		}
		switch {
		case v == nil:
			out[k] = nil
		case m.Numeric[k]:
			if f := Float(v); f != nil {
				out[k] = *f
			} else {
				out[k] = nil
			}
		case m.HTML[k]:
			if s, ok := v.(string); ok {
				out[k] = StripHTML(s)
			} else {
				out[k] = v
			}
		default:
			out[k] = v
		}
	}
	return out
}

// For returns the mapper for an entity, or nil if there is none.
func For(entity models.EntityType) *Mapper {
	switch entity {
	case models.EntityProperty:
		return Property
	case models.EntityMedia:
		return Media
	case models.EntityRooms:
		return Rooms
	case models.EntityOpenHouse:
		return OpenHouse
	}
	return nil
}

// StripHTML reduces a remarks field to plain text. Input without markup is
// returned trimmed; markup that fails to parse is returned unchanged.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find("p, li, div").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
