// Package querytype defines the fixed set of catalog extracts the exporter
// knows how to run, together with the filter expression each one submits to
// the catalog query endpoint.
package querytype

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// All selects every built-in query type.
const All = "all"

// Delivery channel identifiers referenced by the built-in query types.
const (
	ChannelDiscovery  = "discovery"
	ChannelEnrichment = "enrichment"
)

// ErrUnknown is returned when a name matches no built-in query type.
var ErrUnknown = errors.New("unknown query type")

// QueryType describes one extract: what to ask the catalog for and where the
// resulting artifact is delivered. Values are created at startup and never
// mutated.
type QueryType struct {
	// ShortName is the command-line name, the watermark key and the artifact prefix.
	ShortName string

	// FullName is used in log lines and the run summary.
	FullName string

	// Conditions are AND-ed after the modified-since condition is substituted.
	Conditions []Condition

	// DeliveryChannel names the configured channel the artifact goes to.
	DeliveryChannel string

	// DeliverySubpath is prepended to the artifact name on the remote side.
	DeliverySubpath string
}

// Built-in query types, in the order "all" runs them.
var (
	CatalogUpdates = QueryType{
		ShortName: "catalog-updates",
		FullName:  "Catalog Updates",
		Conditions: []Condition{
			Equals(FieldSuppression, "-"),
			ModifiedSince(),
		},
		DeliveryChannel: ChannelDiscovery,
		DeliverySubpath: "updates/",
	}

	CatalogDeletions = QueryType{
		ShortName: "catalog-deletions",
		FullName:  "Catalog Deletions",
		Conditions: []Condition{
			NotEqual(FieldSuppression, "-"),
			ModifiedSince(),
		},
		DeliveryChannel: ChannelDiscovery,
		DeliverySubpath: "deletes/",
	}

	EnrichmentFeed = QueryType{
		ShortName: "enrichment-feed",
		FullName:  "Enrichment Feed",
		Conditions: []Condition{
			ModifiedSince(),
			Equals(FieldSuppression, "-"),
			NotEqual(FieldCatalogDate, "      "),
			NotEqual(FieldLocation, "ulgmc"),
		},
		DeliveryChannel: ChannelEnrichment,
	}
)

var builtins = []QueryType{CatalogUpdates, CatalogDeletions, EnrichmentFeed}

// Builtins returns a copy of the built-in query types in run order.
func Builtins() []QueryType {
	out := make([]QueryType, len(builtins))
	copy(out, builtins)
	return out
}

// Names returns the valid short names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for _, qt := range builtins {
		names = append(names, qt.ShortName)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a command-line argument into the query types to run. The
// match is case-insensitive; "all" returns every built-in.
func Lookup(name string) ([]QueryType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == All {
		return Builtins(), nil
	}
	for _, qt := range builtins {
		if qt.ShortName == name {
			return []QueryType{qt}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (valid: %s, %s)", ErrUnknown, name, strings.Join(Names(), ", "), All)
}

// ArtifactName returns the export file name for a run starting at since.
func (q QueryType) ArtifactName(since, ext string) string {
	return q.ShortName + "-" + since + "." + strings.TrimPrefix(ext, ".")
}

// RemotePath returns where the artifact is stored on the delivery channel.
func (q QueryType) RemotePath(artifactName string) string {
	return q.DeliverySubpath + artifactName
}

// Filter renders the JSON query body for records modified after since.
func (q QueryType) Filter(since string) ([]byte, error) {
	if len(q.Conditions) == 0 {
		return nil, fmt.Errorf("query type %s has no conditions", q.ShortName)
	}

	queries := make([]any, 0, len(q.Conditions)*2-1)
	for i, c := range q.Conditions {
		if i > 0 {
			queries = append(queries, "and")
		}
		queries = append(queries, c.render(since))
	}

	body, err := json.Marshal(struct {
		Queries []any `json:"queries"`
	}{Queries: queries})
	if err != nil {
		return nil, fmt.Errorf("marshal filter for %s: %w", q.ShortName, err)
	}
	return body, nil
}
