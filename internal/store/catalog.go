// This file implements the flat-file vehicle catalog store.

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BTreeMap/CarPulse/internal/models"
)

// DefaultCatalogFile is the catalog file name used when none is configured.
const DefaultCatalogFile = "cars.txt"

// Load sources reported by LoadWithReport.
const (
	LoadSourceFile    = "file"
	LoadSourcePartial = "partial" // file loaded with defective lines skipped
	LoadSourceSeed    = "seed"
)

// PersistenceError reports a catalog file that could not be written.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("catalog %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// LoadReport summarises how the catalog was obtained.
type LoadReport struct {
	Source  string
	Loaded  int
	Defects []*ParseError
	Padded  []string // vehicles whose series were padded to the period count
	Seeded  bool
	SeedErr error // set when the seed catalog could not be persisted
}

// Degraded reports whether the load fell back to seed data or skipped lines.
func (r LoadReport) Degraded() bool {
	return r.Source != LoadSourceFile
}

// SeedVehicles returns the built-in catalog used when no usable file exists.
func SeedVehicles() []models.Vehicle {
	return []models.Vehicle{
		{Name: "Toyota Camry", Price: 25000, Horsepower: 203, FuelEconomy: "28 MPG", Year: 2023, EngineType: "Gasoline", Country: "Japan"},
		{Name: "Honda Civic", Price: 22000, Horsepower: 158, FuelEconomy: "32 MPG", Year: 2023, EngineType: "Gasoline", Country: "Japan"},
		{Name: "BMW X5", Price: 60000, Horsepower: 335, FuelEconomy: "21 MPG", Year: 2023, EngineType: "Diesel", Country: "Germany"},
		{Name: "Tesla Model 3", Price: 45000, Horsepower: 283, FuelEconomy: "134 MPGe", Year: 2023, EngineType: "Electric", Country: "USA"},
	}
}

// CatalogStore owns the vehicle catalog and price history for the process lifetime.
// Reads are safe for concurrent use; writes rewrite the whole file.
type CatalogStore struct {
	mu      sync.RWMutex
	path    string
	periods models.Periods
	catalog models.Catalog
	history models.PriceHistory
}

// NewCatalogStore creates a store backed by the file at path.
// The store is empty until Load is called.
func NewCatalogStore(path string, periods models.Periods) *CatalogStore {
	if path == "" {
		path = DefaultCatalogFile
	}
	if periods.Len() == 0 {
		periods = models.DefaultPeriods()
	}
	return &CatalogStore{
		path:    path,
		periods: periods,
		history: models.PriceHistory{},
	}
}

// Path returns the catalog file path.
func (s *CatalogStore) Path() string {
	return s.path
}

// Periods returns the period sequence every series is aligned to.
func (s *CatalogStore) Periods() models.Periods {
	return s.periods
}

// Load reads the catalog file, falling back to seed data, and returns a snapshot.
func (s *CatalogStore) Load() (models.Catalog, models.PriceHistory) {
	s.LoadWithReport()
	return s.Snapshot()
}

// LoadWithReport reads the catalog file into the store and reports what happened.
// Load never fails: degraded loads are logged and fall back to seed data.
func (s *CatalogStore) LoadWithReport() LoadReport {
	n := s.periods.Len()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("CatalogStore.Load: catalog file not found, using seed data", "path", s.path)
		} else {
			slog.Warn("CatalogStore.Load: catalog file unreadable, using seed data", "path", s.path, "error", err)
		}
		return s.seed(LoadReport{})
	}

	var report LoadReport
	catalog := models.Catalog{}
	history := models.PriceHistory{}
	for i, line := range strings.Split(string(data), "\n") {
		lineNo := i + 1
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseLine(lineNo, line)
		if err != nil {
			var perr *ParseError
			if !errors.As(err, &perr) {
				perr = &ParseError{Line: lineNo, Reason: "unparseable line", Err: err}
			}
			slog.Warn("CatalogStore.Load: skipping defective line", "path", s.path, "line", lineNo, "reason", perr.Reason, "error", perr.Err)
			report.Defects = append(report.Defects, perr)
			continue
		}
		if err := catalog.Add(rec.Vehicle); err != nil {
			perr := &ParseError{Line: lineNo, Reason: "duplicate vehicle", Err: err}
			slog.Warn("CatalogStore.Load: skipping defective line", "path", s.path, "line", lineNo, "reason", perr.Reason, "vehicle", rec.Vehicle.Name)
			report.Defects = append(report.Defects, perr)
			continue
		}
		if len(rec.Defaulted) > 0 {
			slog.Info("CatalogStore.Load: filled absent fields with defaults", "line", lineNo, "vehicle", rec.Vehicle.Name, "fields", rec.Defaulted)
		}
		if len(rec.Prices) < n {
			slog.Warn("CatalogStore.Load: price series shorter than period count, padding with current price",
				"vehicle", rec.Vehicle.Name, "have", len(rec.Prices), "want", n)
			report.Padded = append(report.Padded, rec.Vehicle.Name)
		} else if len(rec.Prices) > n {
			slog.Warn("CatalogStore.Load: price series longer than period count, charts for this vehicle will fail",
				"vehicle", rec.Vehicle.Name, "have", len(rec.Prices), "want", n)
		}
		history[rec.Vehicle.Name] = models.Reconcile(rec.Prices, rec.Vehicle.Price, n)
	}

	if catalog.Len() == 0 {
		slog.Warn("CatalogStore.Load: no valid vehicles in catalog file, using seed data", "path", s.path, "defects", len(report.Defects))
		return s.seed(report)
	}

	report.Source = LoadSourceFile
	if len(report.Defects) > 0 {
		report.Source = LoadSourcePartial
	}
	report.Loaded = catalog.Len()

	s.mu.Lock()
	s.catalog = catalog
	s.history = history
	s.mu.Unlock()

	slog.Info("CatalogStore.Load: catalog loaded", "path", s.path, "vehicles", report.Loaded, "source", report.Source)
	return report
}

// seed installs the seed catalog and persists it. A persistence failure is logged only.
func (s *CatalogStore) seed(report LoadReport) LoadReport {
	n := s.periods.Len()
	catalog := models.Catalog{}
	history := models.PriceHistory{}
	for _, v := range SeedVehicles() {
		if err := catalog.Add(v); err != nil {
			slog.Error("CatalogStore.Load: invalid seed vehicle", "vehicle", v.Name, "error", err)
			continue
		}
		history[v.Name] = models.FlatSeries(v.Price, n)
	}

	s.mu.Lock()
	s.catalog = catalog
	s.history = history
	s.mu.Unlock()

	report.Source = LoadSourceSeed
	report.Seeded = true
	report.Loaded = catalog.Len()
	if err := s.Save(catalog, history); err != nil {
		slog.Error("CatalogStore.Load: failed to persist seed catalog", "path", s.path, "error", err)
		report.SeedErr = err
	}
	return report
}

// Save writes the catalog in full form to a temporary file and renames it over the target.
// It does not modify the in-memory state of the store.
func (s *CatalogStore) Save(catalog models.Catalog, history models.PriceHistory) error {
	n := s.periods.Len()
	var b strings.Builder
	for _, v := range catalog.Vehicles() {
		prices, ok := history[v.Name]
		if !ok {
			prices = models.FlatSeries(v.Price, n)
		}
		b.WriteString(FormatLine(v, prices))
		b.WriteByte('\n')
	}
	if err := writeFileAtomic(s.path, []byte(b.String())); err != nil {
		slog.Error("CatalogStore.Save failed", "path", s.path, "error", err)
		return err
	}
	slog.Debug("CatalogStore.Save succeeded", "path", s.path, "vehicles", catalog.Len())
	return nil
}

// Upsert inserts or replaces a vehicle and its series, then saves the catalog.
// A nil or short series is padded with the vehicle's price; a series longer
// than the period list is rejected. On save failure the in-memory change is
// rolled back.
func (s *CatalogStore) Upsert(v models.Vehicle, prices []int) error {
	v = v.WithDefaults()
	if err := v.Validate(); err != nil {
		return err
	}
	for _, p := range prices {
		if p < 0 {
			return fmt.Errorf("%w: series for %s", models.ErrNegativeVehicleValue, v.Name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.periods.Len(); len(prices) > n {
		return fmt.Errorf("%w: %d prices for %d periods", models.ErrSeriesMismatch, len(prices), n)
	}

	prevCatalog := s.catalog.Clone()
	prevHistory := s.history.Clone()

	if err := s.catalog.Put(v); err != nil {
		return err
	}
	s.history[v.Name] = models.Reconcile(prices, v.Price, s.periods.Len())

	if err := s.Save(s.catalog, s.history); err != nil {
		s.catalog = prevCatalog
		s.history = prevHistory
		slog.Warn("CatalogStore.Upsert rolled back", "vehicle", v.Name, "error", err)
		return err
	}
	slog.Info("CatalogStore.Upsert succeeded", "vehicle", v.Name)
	return nil
}

// Snapshot returns independent copies of the catalog and price history.
func (s *CatalogStore) Snapshot() (models.Catalog, models.PriceHistory) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Clone(), s.history.Clone()
}

// Catalog returns a copy of the current catalog.
func (s *CatalogStore) Catalog() models.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Clone()
}

// History returns a copy of the current price history.
func (s *CatalogStore) History() models.PriceHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Clone()
}

// Vehicle looks up a vehicle by name.
func (s *CatalogStore) Vehicle(name string) (models.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Get(name)
}

// Names returns the vehicle names in catalog order.
func (s *CatalogStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Names()
}

// writeFileAtomic replaces path with data via a temporary file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return &PersistenceError{Path: path, Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &PersistenceError{Path: path, Op: "create", Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return &PersistenceError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return &PersistenceError{Path: path, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &PersistenceError{Path: path, Op: "close", Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return &PersistenceError{Path: path, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return &PersistenceError{Path: path, Op: "rename", Err: err}
	}
	return nil
}
