package evaluate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// LoadJudgementsCSV reads "query,score,link" rows (any column order, header
// required). An empty query repeats the previous one. Later judgements of a
// link already judged for the same query are ignored.
func LoadJudgementsCSV(r io.Reader) ([]Judgement, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range []string{"query", "score", "link"} {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing %q column", name)
		}
	}
	field := func(row []string, name string) string {
		if i := columns[name]; i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var out []Judgement
	seen := map[string]bool{}
	lastQuery := ""
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		query := field(row, "query")
		if query == "" {
			query = lastQuery
		}
		if query == "" {
			return nil, fmt.Errorf("line %d: missing query", line)
		}
		link := field(row, "link")
		if link == "" {
			return nil, fmt.Errorf("line %d: missing link", line)
		}
		score, err := strconv.Atoi(field(row, "score"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid score: %w", line, err)
		}
		lastQuery = query

		key := query + "\x00" + link
		if seen[key] {
			slog.Info("ignoring repeated judgement", "query", query, "link", link)
			continue
		}
		seen[key] = true
		out = append(out, Judgement{Query: query, Link: link, Score: score})
	}
	return out, nil
}
