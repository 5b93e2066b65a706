package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/sierra-export/pkg/pagination"
	"github.com/Sternrassler/sierra-export/pkg/querytype"
)

// Result is the outcome of one query type within a run.
type Result struct {
	QueryType querytype.QueryType
	Records   int
	Since     string
	Until     string

	// Artifact is nil when no records matched.
	Artifact *pagination.Artifact
}

// Summary renders the result as a report block.
func (r Result) Summary() string {
	return fmt.Sprintf("%s\nRecords: %d\nDate Range: %s - %s\n\n",
		r.QueryType.FullName, r.Records, r.Since, r.Until)
}

// Report aggregates the results of a run. After a fatal error it holds the
// results completed before the failure.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  []Result
}

// String concatenates the summary blocks in run order.
func (r Report) String() string {
	var b strings.Builder
	for _, res := range r.Results {
		b.WriteString(res.Summary())
	}
	return b.String()
}

// Records returns the total number of records across all results.
func (r Report) Records() int {
	total := 0
	for _, res := range r.Results {
		total += res.Records
	}
	return total
}
