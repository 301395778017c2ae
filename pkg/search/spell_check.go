package search

import (
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/config"
)

const spellingSuggestions = "spelling_suggestions"

var digitRegex = regexp.MustCompile(`\d`)

// SpellCheck builds the suggestion request sent to the spelling indices.
// Queries containing numbers, organisation acronyms or ignored words are
// never corrected.
type SpellCheck struct {
	params  Parameters
	blocked []string
}

func NewSpellCheck(params Parameters, cfg config.SpellingConfig) SpellCheck {
	blocked := make([]string, 0, len(cfg.Ignore)+len(cfg.OrganisationAcronyms))
	for _, w := range slices.Concat(cfg.Ignore, cfg.OrganisationAcronyms) {
		blocked = append(blocked, strings.ToLower(w))
	}
	return SpellCheck{params: params, blocked: blocked}
}

func (s SpellCheck) Blocked() bool {
	for _, word := range strings.Fields(s.params.Query) {
		if digitRegex.MatchString(word) || slices.Contains(s.blocked, strings.ToLower(word)) {
			return true
		}
	}
	return false
}

func (s SpellCheck) Payload() M {
	return M{
		"size": 0,
		"suggest": M{
			spellingSuggestions: M{
				"text": s.params.Query,
				"phrase": M{
					"field":      "spelling_text",
					"size":       1,
					"max_errors": 3,
					"direct_generator": []M{{
						"field":        "spelling_text",
						"suggest_mode": "missing",
						"sort":         "score",
					}},
					"highlight": M{"pre_tag": "<mark>", "post_tag": "</mark>"},
				},
			},
		},
	}
}

type Suggestion struct {
	Text        string `json:"text"`
	Highlighted string `json:"highlighted"`
}

// Suggestions reads the options out of a suggest response.
func Suggestions(suggest []byte) []Suggestion {
	var out []Suggestion
	gjson.GetBytes(suggest, spellingSuggestions+".0.options").ForEach(func(_, option gjson.Result) bool {
		out = append(out, Suggestion{
			Text:        option.Get("text").String(),
			Highlighted: option.Get("highlighted").String(),
		})
		return true
	})
	return out
}
