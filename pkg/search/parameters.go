package search

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidQuery = errors.New("invalid query")

// MissingValue as a filter value selects documents without the field.
const MissingValue = "_MISSING"

const (
	DefaultCount = 10
	MaxCount     = 1000
)

// starts and ends with quotes with none in between
var quotedStringRegex = regexp.MustCompile(`^\s*"[^"]+"\s*$`)

var (
	allowedSortFields = []string{"public_timestamp", "updated_at", "popularity", "title"}

	allowedFilterFields = []string{
		"content_id",
		"content_store_document_type",
		"document_type",
		"format",
		"link",
		"organisations",
		"public_timestamp",
		"publishing_app",
		"rendering_app",
		"search_format_types",
		"specialist_sectors",
	}

	dateFilterFields = []string{"public_timestamp", "updated_at"}

	debugFlags = []string{"disable_best_bets", "disable_popularity", "disable_synonyms", "disable_boosting", "explain"}
)

type Order struct {
	Field     string
	Direction string
}

// Filter restricts (or with Reject, excludes) documents by field value.
type Filter struct {
	Field          string
	Values         []string
	IncludeMissing bool
	Reject         bool

	// set for date fields only
	From, To *time.Time
}

func (f Filter) IsDate() bool {
	return slices.Contains(dateFilterFields, f.Field)
}

type Debug struct {
	DisableBestBets   bool
	DisablePopularity bool
	DisableSynonyms   bool
	DisableBoosting   bool
	Explain           bool
}

// Parameters is the parsed form of one search request. It is built once and
// shared read-only by every query component.
type Parameters struct {
	Query        string
	Filters      []Filter
	Start        int
	Count        int
	Order        *Order
	ReturnFields []string
	Suggest      []string
	SimilarTo    string
	ABTests      map[string]string
	Cluster      string
	Debug        Debug
}

func (p Parameters) HasQuery() bool {
	return strings.TrimSpace(p.Query) != ""
}

// Quoted reports whether the whole query is a single quoted phrase.
func (p Parameters) Quoted() bool {
	return quotedStringRegex.MatchString(p.Query)
}

// UseShingles reports whether the shingle match group is part of the text
// query. Variant B of the "shingles" test keeps it, any other variant drops
// it. Without the test it is always on.
func (p Parameters) UseShingles() bool {
	v, ok := p.ABTests["shingles"]
	return !ok || v == "B"
}

func (p Parameters) FieldRequested(name string) bool {
	return slices.Contains(p.ReturnFields, name)
}

func (p Parameters) SuggestSpelling() bool {
	return p.HasQuery() && (slices.Contains(p.Suggest, "spelling") || slices.Contains(p.Suggest, "spelling_with_highlighting"))
}

// ParseParameters reads a search request from query-string values. All
// problems are reported together in an error wrapping ErrInvalidQuery.
func ParseParameters(values url.Values) (Parameters, error) {
	p := parser{values: values, used: map[string]bool{}}

	params := Parameters{
		Start:        p.integer("start", 0),
		Count:        p.integer("count", DefaultCount),
		Query:        p.str("q"),
		Order:        p.order(),
		ReturnFields: p.list("fields"),
		Filters:      p.filters(),
		Suggest:      p.list("suggest"),
		SimilarTo:    p.str("similar_to"),
		ABTests:      p.abTests(),
		Cluster:      p.str("cluster"),
		Debug:        p.debug(),
	}
	if params.Count > MaxCount {
		p.errorf("count %d exceeds the maximum of %d", params.Count, MaxCount)
	}
	if params.SimilarTo != "" && params.HasQuery() {
		p.errorf("cannot combine similar_to with q")
	}

	var unused []string
	for key := range values {
		if !p.used[key] {
			unused = append(unused, key)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		p.errorf("unexpected parameters: %s", strings.Join(unused, ", "))
	}

	if len(p.errs) > 0 {
		return Parameters{}, fmt.Errorf("%w: %s", ErrInvalidQuery, strings.Join(p.errs, ". "))
	}
	return params, nil
}

type parser struct {
	values url.Values
	used   map[string]bool
	errs   []string
}

func (p *parser) errorf(format string, args ...interface{}) {
	p.errs = append(p.errs, fmt.Sprintf(format, args...))
}

func (p *parser) str(name string) string {
	p.used[name] = true
	return p.values.Get(name)
}

// list accepts both repeated and comma separated values.
func (p *parser) list(name string) []string {
	p.used[name] = true
	var out []string
	for _, v := range p.values[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (p *parser) integer(name string, fallback int) int {
	v := p.str(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errorf("invalid value %q for parameter %q (expected positive integer)", v, name)
		return fallback
	}
	if n < 0 {
		p.errorf("invalid negative value %q for parameter %q (expected positive integer)", v, name)
		return fallback
	}
	return n
}

func (p *parser) order() *Order {
	v := p.str("order")
	if v == "" {
		return nil
	}
	o := &Order{Field: v, Direction: "asc"}
	if strings.HasPrefix(v, "-") {
		o.Field, o.Direction = v[1:], "desc"
	}
	if !slices.Contains(allowedSortFields, o.Field) {
		p.errorf("%q is not a valid sort field", o.Field)
		return nil
	}
	return o
}

func (p *parser) filters() []Filter {
	var keys []string
	for key := range p.values {
		if strings.HasPrefix(key, "filter_") || strings.HasPrefix(key, "reject_") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []Filter
	for _, key := range keys {
		prefix, field, _ := strings.Cut(key, "_")
		values := p.list(key)
		if !slices.Contains(allowedFilterFields, field) {
			p.errorf("%q is not a valid filter field", field)
			continue
		}

		f := Filter{Field: field, Reject: prefix == "reject"}
		for _, v := range values {
			if v == MissingValue {
				f.IncludeMissing = true
				continue
			}
			f.Values = append(f.Values, v)
		}
		if f.IsDate() && !p.dateRange(&f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// dateRange parses "from:2006-01-02,to:2006-01-02" into the filter bounds.
func (p *parser) dateRange(f *Filter) bool {
	for _, v := range f.Values {
		name, value, ok := strings.Cut(v, ":")
		if !ok || (name != "from" && name != "to") {
			p.errorf("invalid date filter %q for %q", v, f.Field)
			return false
		}
		t, err := time.Parse(time.DateOnly, value)
		if err != nil {
			p.errorf("invalid date %q for %q", value, f.Field)
			return false
		}
		if name == "from" {
			f.From = &t
		} else {
			f.To = &t
		}
	}
	f.Values = nil
	return true
}

func (p *parser) debug() Debug {
	var d Debug
	for _, flag := range p.list("debug") {
		switch flag {
		case "disable_best_bets":
			d.DisableBestBets = true
		case "disable_popularity":
			d.DisablePopularity = true
		case "disable_synonyms":
			d.DisableSynonyms = true
		case "disable_boosting":
			d.DisableBoosting = true
		case "explain":
			d.Explain = true
		default:
			p.errorf("unknown debug flag %q, expected one of %s", flag, strings.Join(debugFlags, ", "))
		}
	}
	return d
}

func (p *parser) abTests() map[string]string {
	tests := p.list("ab_tests")
	if len(tests) == 0 {
		return nil
	}
	out := make(map[string]string, len(tests))
	for _, t := range tests {
		name, variant, ok := strings.Cut(t, ":")
		if !ok || name == "" || variant == "" {
			p.errorf("invalid ab_tests value %q (expected name:variant)", t)
			continue
		}
		out[name] = variant
	}
	return out
}
