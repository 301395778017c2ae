package search

import "strings"

const highlightSuffix = "_with_highlighting"

// fields that can be returned with highlighting
var highlightable = []string{"title", "description"}

type Highlight struct {
	params Parameters
}

func NewHighlight(params Parameters) Highlight {
	return Highlight{params: params}
}

// Payload is nil unless a "<field>_with_highlighting" return field was
// requested.
func (h Highlight) Payload() M {
	fields := M{}
	for _, name := range highlightable {
		if !h.params.FieldRequested(name + highlightSuffix) {
			continue
		}
		field := name
		if !h.params.Debug.DisableSynonyms {
			field += ".synonym"
		}
		fields[field] = h.fieldOptions(name)
	}
	if len(fields) == 0 {
		return nil
	}
	return M{
		"pre_tags":  []string{"<mark>"},
		"post_tags": []string{"</mark>"},
		"encoder":   "html",
		"fields":    fields,
	}
}

func (h Highlight) fieldOptions(name string) M {
	if name == "description" {
		return M{"number_of_fragments": 1, "fragment_size": 285}
	}
	return M{"number_of_fragments": 0}
}

// HighlightedField maps a "_with_highlighting" return field to its source
// field name.
func HighlightedField(returnField string) (string, bool) {
	return strings.CutSuffix(returnField, highlightSuffix)
}
