package executor

// ColumnKind classifies a data frame column for downstream filter controls.
type ColumnKind string

const (
	ColumnCategorical ColumnKind = "categorical"
	ColumnNumeric     ColumnKind = "numeric"
	ColumnOther       ColumnKind = "other"
)

// Categorical bounds, inclusive, on the distinct non-missing value count.
const (
	MinCategoricalValues = 2
	MaxCategoricalValues = 250
)

// ColumnDescriptor describes one column. Values is set for categorical
// columns; Min and Max for numeric ones.
type ColumnDescriptor struct {
	Name   string     `json:"name"`
	Kind   ColumnKind `json:"kind"`
	Values []string   `json:"values,omitempty"`
	Min    *float64   `json:"min,omitempty"`
	Max    *float64   `json:"max,omitempty"`
}

// Schema is the post-execution shape of one workspace variable.
//
// Exists is false when the variable is not bound in the workspace; Active
// marks a variable that should become the consumer's current dataset.
type Schema struct {
	Variable string             `json:"variable"`
	Exists   bool               `json:"exists"`
	Active   bool               `json:"active"`
	Rows     int                `json:"rows"`
	Columns  []ColumnDescriptor `json:"columns"`
}
