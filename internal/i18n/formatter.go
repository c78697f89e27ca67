// Package i18n provides the message formatter used for user-facing text.
package i18n

import (
	_ "embed"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

//go:embed translations.json
var defaultCatalog []byte

// Formatter renders the message stored under key, substituting {name}
// placeholders from replacements.
type Formatter interface {
	T(key string, replacements map[string]string) string
}

// Catalog is a Formatter backed by a JSON document of the form
// {"data": [{"key": "...", "value": "..."}]}.
type Catalog struct {
	messages map[string]string
}

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic("i18n: embedded catalog: " + err.Error())
	}
	return c
}

// Parse builds a Catalog from raw JSON.
func Parse(raw []byte) (*Catalog, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("catalog is not valid JSON")
	}
	data := gjson.GetBytes(raw, "data")
	if !data.IsArray() {
		return nil, errors.New(`catalog has no "data" array`)
	}

	c := &Catalog{messages: make(map[string]string)}
	data.ForEach(func(_, entry gjson.Result) bool {
		key := entry.Get("key").String()
		if key != "" {
			c.messages[key] = entry.Get("value").String()
		}
		return true
	})
	return c, nil
}

// T returns the message for key. Unknown keys render as the key itself so a
// missing translation is visible rather than blank.
func (c *Catalog) T(key string, replacements map[string]string) string {
	msg, ok := c.messages[key]
	if !ok {
		return key
	}
	if len(replacements) == 0 {
		return msg
	}
	pairs := make([]string, 0, len(replacements)*2)
	for name, value := range replacements {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}
