package querytype

// Bib record field tags used by the built-in filters.
const (
	FieldLocation    = 26
	FieldCatalogDate = 28
	FieldSuppression = 31
	FieldUpdatedDate = 84
)

// Operators understood by the catalog query language.
const (
	OpEquals      = "equals"
	OpNotEqual    = "not_equal"
	OpGreaterThan = "greater_than"
)

// Condition is one term of a bib filter expression. A condition with
// Since set takes its operand from the run's watermark date.
type Condition struct {
	Field    int
	Op       string
	Operands []string
	Since    bool
}

// Equals matches bibs whose field equals value.
func Equals(field int, value string) Condition {
	return Condition{Field: field, Op: OpEquals, Operands: []string{value, ""}}
}

// NotEqual matches bibs whose field differs from value.
func NotEqual(field int, value string) Condition {
	return Condition{Field: field, Op: OpNotEqual, Operands: []string{value, ""}}
}

// ModifiedSince matches bibs updated after the watermark date.
func ModifiedSince() Condition {
	return Condition{Field: FieldUpdatedDate, Op: OpGreaterThan, Since: true}
}

type target struct {
	Record struct {
		Type string `json:"type"`
	} `json:"record"`
	ID int `json:"id"`
}

type expression struct {
	Op       string   `json:"op"`
	Operands []string `json:"operands"`
}

type term struct {
	Target target     `json:"target"`
	Expr   expression `json:"expr"`
}

func (c Condition) render(since string) term {
	var t term
	t.Target.Record.Type = "bib"
	t.Target.ID = c.Field
	t.Expr.Op = c.Op
	if c.Since {
		t.Expr.Operands = []string{since}
	} else {
		t.Expr.Operands = append([]string(nil), c.Operands...)
	}
	return t
}
