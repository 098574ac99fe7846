// Package statics imports precomputed scenario results. Each scenario is a
// directory below the static prefix holding a datapackage.json and one CSV
// per result:
//
//	oemof_static/<scenario>/datapackage.json
//	oemof_static/<scenario>/<resource path>.csv
//
// The import creates a Simulation without a dataset and one cached Result
// per CSV resource.
package statics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"energycore/internal/blob"
	"energycore/internal/logging"
	"energycore/internal/results"
	"energycore/pkg/domain"
)

// DefaultPrefix is the blob prefix holding static scenarios.
const DefaultPrefix = "oemof_static"

// ErrMalformedResource is returned for CSV resources that cannot become a result.
var ErrMalformedResource = errors.New("malformed static resource")

// Entry records what Import did with one scenario.
type Entry struct {
	Scenario string
	Skipped  bool
}

// Report lists, in processing order, what an Import call did per scenario.
type Report struct {
	Entries []Entry
}

// Imported returns the imported scenarios in processing order.
func (r Report) Imported() []string { return r.scenarios(false) }

// Skipped returns the scenarios that already had a simulation.
func (r Report) Skipped() []string { return r.scenarios(true) }

func (r Report) scenarios(skipped bool) []string {
	var out []string
	for _, e := range r.Entries {
		if e.Skipped == skipped {
			out = append(out, e.Scenario)
		}
	}
	return out
}

type datapackage struct {
	Parameters domain.Parameters `json:"parameters"`
	Resources  []resource        `json:"resources"`
}

type resource struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Importer loads static scenarios from a blob store into the persistent store.
type Importer struct {
	persist domain.PersistentStore
	blobs   blob.Store
	log     logging.Logger
	prefix   string
	ignored  []string
	progress func(Entry)
}

// Option configures an Importer.
type Option func(*Importer)

// WithPrefix changes the blob prefix of static scenarios.
func WithPrefix(prefix string) Option {
	return func(i *Importer) {
		if prefix = strings.Trim(prefix, "/"); prefix != "" {
			i.prefix = prefix
		}
	}
}

// WithIgnoredParameters drops top-level keys from the stored identity, the
// same way the simulation pipeline does.
func WithIgnoredParameters(keys ...string) Option {
	return func(i *Importer) { i.ignored = append(i.ignored, keys...) }
}

// WithProgress calls fn as soon as each scenario is imported or skipped.
func WithProgress(fn func(Entry)) Option {
	return func(i *Importer) { i.progress = fn }
}

// WithLogger sets the importer logger.
func WithLogger(l logging.Logger) Option {
	return func(i *Importer) { i.log = logging.OrNoop(l) }
}

// NewImporter constructs an importer.
func NewImporter(persist domain.PersistentStore, blobs blob.Store, opts ...Option) *Importer {
	i := &Importer{persist: persist, blobs: blobs, log: logging.Noop(), prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Scenarios lists the scenario directories present below the prefix.
func (i *Importer) Scenarios(ctx context.Context) ([]string, error) {
	return blob.Children(ctx, i.blobs, i.prefix)
}

// Import loads the named scenarios, or every scenario below the prefix when
// none are named. A scenario that already has any simulation is skipped.
// The first failing scenario aborts the import; earlier ones stay imported.
func (i *Importer) Import(ctx context.Context, scenarios ...string) (Report, error) {
	if len(scenarios) == 0 {
		found, err := i.Scenarios(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("list static scenarios: %w", err)
		}
		scenarios = found
	}
	var report Report
	for _, scenario := range scenarios {
		imported, err := i.importScenario(ctx, scenario)
		if err != nil {
			return report, fmt.Errorf("import %s: %w", scenario, err)
		}
		if imported {
			i.log.Info(ctx, "static results imported", logging.String("scenario", scenario))
		} else {
			i.log.Info(ctx, "simulation for scenario already exists, skipping", logging.String("scenario", scenario))
		}
		entry := Entry{Scenario: scenario, Skipped: !imported}
		report.Entries = append(report.Entries, entry)
		if i.progress != nil {
			i.progress(entry)
		}
	}
	return report, nil
}

func (i *Importer) importScenario(ctx context.Context, scenario string) (bool, error) {
	var existing []domain.Simulation
	err := i.persist.View(ctx, func(v domain.TransactionView) error {
		var err error
		existing, err = v.ListSimulations(scenario)
		return err
	})
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}

	raw, err := blob.ReadAll(ctx, i.blobs, blob.Join(i.prefix, scenario, "datapackage.json"))
	if err != nil {
		return false, err
	}
	var pkg datapackage
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return false, fmt.Errorf("decode datapackage: %w", err)
	}
	params := pkg.Parameters.Without(i.ignored...)
	key, err := params.CanonicalKey()
	if err != nil {
		return false, err
	}

	rows := make([]domain.Result, 0, len(pkg.Resources))
	for _, res := range pkg.Resources {
		if res.Name == "" || res.Path == "" {
			return false, fmt.Errorf("%w: resource needs name and path", ErrMalformedResource)
		}
		data, err := blob.ReadAll(ctx, i.blobs, blob.Join(i.prefix, scenario, res.Path))
		if err != nil {
			return false, err
		}
		out, err := ParseCSV(strings.NewReader(string(data)))
		if err != nil {
			return false, fmt.Errorf("resource %s: %w", res.Name, err)
		}
		payload, dataType, err := results.EncodePayload(out)
		if err != nil {
			return false, fmt.Errorf("resource %s: %w", res.Name, err)
		}
		rows = append(rows, domain.Result{Name: res.Name, DataType: dataType, Data: payload})
	}

	err = i.persist.RunInTransaction(ctx, func(tx domain.Transaction) error {
		sim, err := tx.CreateSimulation(domain.Simulation{Scenario: scenario, Parameters: params, ParametersKey: key})
		if err != nil {
			return err
		}
		for _, row := range rows {
			row.SimulationID = sim.ID
			if _, _, err := tx.CreateResult(row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ParseCSV reads a table whose first column is the index. One value column
// yields a Series named after its header; more yield a Frame. Numeric cells
// become float64, empty cells null.
func ParseCSV(r io.Reader) (results.Output, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: missing header: %v", ErrMalformedResource, err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: need an index and at least one value column, got %d columns", ErrMalformedResource, len(header))
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResource, err)
	}

	index := make([]any, len(records))
	for n, rec := range records {
		index[n] = cell(rec[0])
	}
	if len(header) == 2 {
		s := &results.Series{Name: header[1], Index: index, Values: make([]float64, len(records))}
		for n, rec := range records {
			switch v := cell(rec[1]).(type) {
			case float64:
				s.Values[n] = v
			case nil:
				s.Values[n] = math.NaN()
			default:
				return nil, fmt.Errorf("%w: row %d: non-numeric series value %q", ErrMalformedResource, n+1, rec[1])
			}
		}
		return s, nil
	}
	f := &results.Frame{Columns: append([]string(nil), header[1:]...), Index: index, Data: make([][]any, len(records))}
	for n, rec := range records {
		row := make([]any, len(rec)-1)
		for c, raw := range rec[1:] {
			row[c] = cell(raw)
		}
		f.Data[n] = row
	}
	return f, nil
}

func cell(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return raw
}
