// Package extractor holds the in-page extraction script and turns its raw output
// into typed page snapshots. The script only gathers layout and computed-style
// facts; color math and classification run in Go.
package extractor

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed extract.js
var scriptTemplate string

const configPlaceholder = "__FIXLAB_CONFIG__"

// ScriptConfig is passed into the page as the script's only argument.
type ScriptConfig struct {
	ViewportWidth  int `json:"viewportWidth"`
	ViewportHeight int `json:"viewportHeight"`
	// MaxCandidates caps clickables that already qualify as CTAs, either by
	// wording or by sitting in the first viewport.
	MaxCandidates int    `json:"maxCandidates"`
	MaxLinks      int    `json:"maxLinks"`
	MaxTextChars  int    `json:"maxTextChars"`
	CTAPattern    string `json:"ctaPattern"`
}

// DefaultScriptConfig matches the 1440x900 audit viewport.
func DefaultScriptConfig() ScriptConfig {
	return ScriptConfig{
		ViewportWidth:  1440,
		ViewportHeight: 900,
		MaxCandidates:  400,
		MaxLinks:       500,
		MaxTextChars:   200000,
		CTAPattern:     CTAPattern,
	}
}

// Script renders the extraction expression for cfg.
func Script(cfg ScriptConfig) (string, error) {
	if cfg.CTAPattern == "" {
		cfg.CTAPattern = CTAPattern
	}
	arg, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal script config: %w", err)
	}
	return strings.Replace(scriptTemplate, configPlaceholder, string(arg), 1), nil
}

// RawHeading is a heading as reported by the page.
type RawHeading struct {
	Level    int    `json:"level"`
	Text     string `json:"text"`
	Selector string `json:"selector"`
}

// RawCTA is a visible clickable element with its layout box in document coordinates.
type RawCTA struct {
	Tag        string  `json:"tag"`
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Selector   string  `json:"selector"`
	Top        float64 `json:"top"`
	Left       float64 `json:"left"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Color      string  `json:"color"`
	Background string  `json:"background"`
}

// RawForm is a <form> with the attributes used for search classification.
type RawForm struct {
	ID                string   `json:"id"`
	ClassName         string   `json:"className"`
	Role              string   `json:"role"`
	AriaLabel         string   `json:"ariaLabel"`
	Action            string   `json:"action"`
	Method            string   `json:"method"`
	Selector          string   `json:"selector"`
	InputTypes        []string `json:"inputTypes"`
	HasInternalSubmit bool     `json:"hasInternalSubmit"`
	HasExternalSubmit bool     `json:"hasExternalSubmit"`
}

// RawSnapshot is the JSON value returned by the extraction script.
type RawSnapshot struct {
	Title             string       `json:"title"`
	MetaDescription   string       `json:"metaDescription"`
	H1Text            string       `json:"h1Text"`
	H1Selector        string       `json:"h1Selector"`
	H1Count           int          `json:"h1Count"`
	Headings          []RawHeading `json:"headings"`
	CTAs              []RawCTA     `json:"ctas"`
	Forms             []RawForm    `json:"forms"`
	BodyText          string       `json:"bodyText"`
	FirstViewportText string       `json:"firstViewportText"`
	Links             []string     `json:"links"`
	NavLinkCount      int          `json:"navLinkCount"`
	ViewportWidth     float64      `json:"viewportWidth"`
	ViewportHeight    float64      `json:"viewportHeight"`
	DocumentWidth     float64      `json:"documentWidth"`
	DocumentHeight    float64      `json:"documentHeight"`
}
