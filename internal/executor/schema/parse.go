package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor"
)

// Parse extracts the introspection object from stdout and classifies its
// columns. Output around the object is ignored. On failure it returns an
// empty schema for variable together with an ErrSchemaParse error.
func Parse(stdout, variable string) (*executor.Schema, error) {
	empty := &executor.Schema{Variable: variable, Active: IsActive(variable), Columns: []executor.ColumnDescriptor{}}

	start := strings.Index(stdout, "{")
	end := strings.LastIndex(stdout, "}")
	if start < 0 || end < start {
		return empty, apperror.SchemaParse("introspection produced no JSON object", nil)
	}

	var raw introspection
	if err := json.Unmarshal([]byte(stdout[start:end+1]), &raw); err != nil {
		return empty, apperror.SchemaParse("introspection output is not valid JSON", err)
	}
	if raw.Error != "" {
		return empty, apperror.SchemaParse("introspection failed: "+raw.Error, nil)
	}
	if raw.Variable != "" {
		variable = raw.Variable
	}
	return classify(raw, variable), nil
}

func classify(raw introspection, variable string) *executor.Schema {
	s := &executor.Schema{
		Variable: variable,
		Exists:   raw.Exists == nil || *raw.Exists,
		Active:   IsActive(variable),
		Columns:  []executor.ColumnDescriptor{},
	}
	if !s.Exists {
		return s
	}
	if raw.NRow.Valid {
		s.Rows = int(raw.NRow.Value)
	}

	numeric := make(map[string]bool, len(raw.NumericCols))
	for _, c := range raw.NumericCols {
		numeric[c] = true
	}

	for _, name := range columnOrder(raw) {
		col := executor.ColumnDescriptor{Name: name, Kind: executor.ColumnOther}
		switch {
		case numeric[name]:
			col.Kind = executor.ColumnNumeric
			if r, ok := raw.NumericInfo[name]; ok {
				col.Min = r.Min.ptr()
				col.Max = r.Max.ptr()
			}
		default:
			values := raw.CategoricalInfo[name]
			if n := len(values); n >= executor.MinCategoricalValues && n <= executor.MaxCategoricalValues {
				col.Kind = executor.ColumnCategorical
				col.Values = values
			}
		}
		s.Columns = append(s.Columns, col)
	}
	return s
}

// columnOrder prefers colnames; columns only named in the info maps are
// appended in name order.
func columnOrder(raw introspection) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, c := range raw.Colnames {
		add(c)
	}

	var extra []string
	for _, c := range raw.NumericCols {
		extra = append(extra, c)
	}
	for c := range raw.CategoricalInfo {
		extra = append(extra, c)
	}
	sort.Strings(extra)
	for _, c := range extra {
		add(c)
	}
	return out
}

// introspection mirrors the JSON written by the introspection script.
type introspection struct {
	Error           string                  `json:"error"`
	Exists          *bool                   `json:"exists"`
	Variable        string                  `json:"variable"`
	NCol            number                  `json:"ncol"`
	NRow            number                  `json:"nrow"`
	Colnames        stringList              `json:"colnames"`
	CategoricalInfo objectMap[stringList]   `json:"categoricalInfo"`
	NumericCols     stringList              `json:"numericCols"`
	NumericInfo     objectMap[numericRange] `json:"numericInfo"`
}

type numericRange struct {
	Min number `json:"min"`
	Max number `json:"max"`
}

// stringList accepts an array or, for length-one vectors unboxed by the
// serializer, a bare scalar.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	if b[0] != '[' {
		s, ok := scalarString(b)
		if !ok {
			return fmt.Errorf("schema: unexpected value %s", b)
		}
		*l = stringList{s}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make(stringList, 0, len(items))
	for _, item := range items {
		if s, ok := scalarString(item); ok {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

func scalarString(b []byte) (string, bool) {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, string(b) == "null":
		return "", false
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", false
		}
		return s, true
	case b[0] == '[' || b[0] == '{':
		return "", false
	default:
		return string(b), true
	}
}

// objectMap accepts an object, or an empty array for an empty named list.
type objectMap[T any] map[string]T

func (m *objectMap[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" || b[0] == '[' {
		*m = objectMap[T]{}
		return nil
	}
	var out map[string]T
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// number accepts JSON numbers, numeric strings and the missing-value
// spellings "NA", "NaN" and "Inf". Only finite values are Valid.
type number struct {
	Value float64
	Valid bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	*n = number{}
	s, ok := scalarString(b)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*n = number{Value: v, Valid: true}
	return nil
}

func (n number) ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}
