// Package relmap is a relationship-aware object/query mapping layer over a
// pluggable relational store. Schemas are declared at runtime against a
// Registry which derives reverse accessors once at registration; queries are
// immutable, lazily evaluated QuerySet values; eager loading bounds the
// number of storage round-trips by the depth of the requested relation paths,
// never by the size of the result set.
package relmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relmap/relmap/driver"
	"github.com/relmap/relmap/logger"
	"github.com/relmap/relmap/schema"
)

// Config engine configuration
type Config struct {
	// Logger defaults to the zerolog console logger
	Logger logger.Interface
	// NamingStrategy defaults to schema.NamingStrategy
	NamingStrategy schema.Namer
	// NowFunc the function used to stamp auto-now-add fields
	NowFunc func() time.Time
}

// Engine owns the schema registry and the storage backend. It is safe for
// concurrent use once registration is complete.
type Engine struct {
	*Config
	registry *schema.Registry
	backend  driver.Backend
}

// Open initializes an engine over a storage backend
func Open(backend driver.Backend, config *Config) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("relmap: backend required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = logger.Default
	}
	if config.NowFunc == nil {
		config.NowFunc = time.Now
	}

	return &Engine{
		Config:   config,
		registry: schema.NewRegistry(config.NamingStrategy),
		backend:  backend,
	}, nil
}

// Registry exposes the schema registry
func (e *Engine) Registry() *schema.Registry { return e.registry }

// Register compiles model definitions into the registry. Call at startup,
// before queries are issued.
func (e *Engine) Register(defs ...*schema.ModelDef) error {
	return e.registry.Register(defs...)
}

// Model starts a QuerySet for the named model. An unknown name poisons the
// QuerySet; the error surfaces from Err and from any finisher, without I/O.
func (e *Engine) Model(name string) *QuerySet {
	qs := &QuerySet{engine: e, limit: -1}
	model, ok := e.registry.Model(name)
	if !ok {
		qs.err = fmt.Errorf("%w: %s", ErrUnknownModel, name)
		return qs
	}
	qs.model = model
	return qs
}

// Bootstrap asks the backend to provision tables and unique constraints for
// every registered model, including implicit many-to-many join tables. A
// backend that cannot provision tables is left untouched.
func (e *Engine) Bootstrap(ctx context.Context) error {
	creator, ok := e.backend.(driver.TableCreator)
	if !ok {
		return nil
	}
	for _, model := range e.registry.Models() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := creator.EnsureTable(model.Table, model.UniqueSets()); err != nil {
			return err
		}
		for _, rel := range model.Relationships.ManyToMany {
			if !rel.Owning || rel.Through != nil {
				continue
			}
			if err := creator.EnsureTable(rel.JoinTable, rel.JoinUniqueSets()); err != nil {
				return err
			}
		}
	}
	e.Logger.Info(ctx, "bootstrapped %d models", len(e.registry.Models()))
	return nil
}

// fetch runs one retrieval against the given backend view and traces it
func (e *Engine) fetch(ctx context.Context, backend driver.Backend, spec *driver.FetchSpec) ([]driver.Row, error) {
	begin := time.Now()
	rows, err := backend.Fetch(ctx, spec)
	e.Logger.Trace(ctx, begin, func() (string, int64) {
		return describeFetch(spec), int64(len(rows))
	}, err)
	return rows, err
}

// exec runs one mutation against the given backend view, traces it and maps
// uniqueness violations into the core taxonomy
func (e *Engine) exec(ctx context.Context, backend driver.Backend, m *driver.Mutation) (driver.Result, error) {
	begin := time.Now()
	result, err := backend.Exec(ctx, m)
	e.Logger.Trace(ctx, begin, func() (string, int64) {
		return describeMutation(m), result.RowsAffected
	}, err)
	if err != nil && errors.Is(err, driver.ErrUniqueViolation) {
		return result, &IntegrityError{Table: m.Table, Err: err}
	}
	return result, err
}

func describeFetch(spec *driver.FetchSpec) string {
	desc := "fetch " + spec.Table
	if len(spec.Joins) > 0 {
		desc += fmt.Sprintf(" joins=%d", len(spec.Joins))
	}
	if spec.Where != nil {
		desc += " filtered"
	}
	if spec.Distinct {
		desc += " distinct"
	}
	if spec.Limit >= 0 {
		desc += fmt.Sprintf(" limit=%d", spec.Limit)
	}
	return desc
}

func describeMutation(m *driver.Mutation) string {
	return string(m.Kind) + " " + m.Table
}
