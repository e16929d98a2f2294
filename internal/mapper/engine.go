// Package mapper applies named declarative transforms to credential
// documents. Transforms are CEL expressions fetched from a cache-backed
// store; an optional JSON Schema checks the produced document.
package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"healthcred/internal/credential/models"
	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/sentinel"
)

// Store loads mappers by name. Get returns sentinel.ErrNotFound for an
// unknown name.
type Store interface {
	Get(ctx context.Context, name string) (*Mapper, error)
	Put(ctx context.Context, m *Mapper) error
}

// SharedCache is a mapper cache below the engine that other processes also
// read, such as the Redis cache in the store package.
type SharedCache interface {
	Invalidate(ctx context.Context, name string) error
}

// EntityConfigs resolves which mappers an organization uses.
type EntityConfigs interface {
	Get(ctx context.Context, entityID string) (*models.EntityConfig, error)
}

type field struct {
	path    []string
	program cel.Program
}

type compiled struct {
	fields    []field
	schema    *jsonschema.Schema
	expiresAt time.Time
}

// Engine compiles mappers on first use and keeps the compiled programs for
// the cache TTL.
type Engine struct {
	store  Store
	shared SharedCache
	env    *cel.Env
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*compiled
}

// Option configures the Engine.
type Option func(*Engine)

// WithCacheTTL bounds how long a compiled mapper is reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSharedCache makes Evict also drop mappers from c.
func WithSharedCache(c SharedCache) Option {
	return func(e *Engine) {
		e.shared = c
	}
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine builds the CEL environment.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	env, err := cel.NewEnv(cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	e := &Engine{
		store:  store,
		env:    env,
		ttl:    10 * time.Minute,
		now:    time.Now,
		logger: slog.Default(),
		cache:  make(map[string]*compiled),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Apply transforms doc with the named mapper.
func (e *Engine) Apply(ctx context.Context, doc map[string]any, name string) (map[string]any, error) {
	c, err := e.load(ctx, name)
	if err != nil {
		return nil, err
	}

	input, err := plain(doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "document is not JSON")
	}
	activation := map[string]any{"doc": input}

	out := make(map[string]any)
	for _, f := range c.fields {
		val, _, err := f.program.Eval(activation)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation,
				fmt.Sprintf("mapper %s: evaluate %s", name, strings.Join(f.path, ".")))
		}
		native, err := val.ConvertToNative(types.JSONValueType)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation,
				fmt.Sprintf("mapper %s: %s is not JSON", name, strings.Join(f.path, ".")))
		}
		v := native.(*structpb.Value).AsInterface()
		if v == nil {
			continue
		}
		setPath(out, f.path, v)
	}

	if c.schema != nil {
		if err := c.schema.Validate(out); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation,
				fmt.Sprintf("mapper %s: output does not match schema", name))
		}
	}
	return out, nil
}

// Invalidate drops the compiled form of name, or of every mapper when name
// is empty.
func (e *Engine) Invalidate(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if name == "" {
		clear(e.cache)
		return
	}
	delete(e.cache, name)
}

// Evict drops the named mappers from the compiled cache and from the shared
// cache, so the next Apply reads them from the store again.
func (e *Engine) Evict(ctx context.Context, names ...string) {
	for _, name := range names {
		if name == "" {
			continue
		}
		e.Invalidate(name)
		if e.shared == nil {
			continue
		}
		if err := e.shared.Invalidate(ctx, name); err != nil {
			e.logger.WarnContext(ctx, "failed to evict shared mapper", "mapper", name, "error", err)
		}
	}
}

// EntityHook returns a callback that evicts the mappers an organization is
// configured with. When the configuration cannot be read every compiled
// mapper is dropped.
func (e *Engine) EntityHook(configs EntityConfigs) func(ctx context.Context, entityID string) {
	return func(ctx context.Context, entityID string) {
		cfg, err := configs.Get(ctx, entityID)
		if err != nil {
			e.logger.WarnContext(ctx, "entity config unavailable, dropping all compiled mappers",
				"entity_id", entityID,
				"error", err,
			)
			e.Invalidate("")
			return
		}
		e.Evict(ctx, cfg.MapperName, cfg.ConsentMapperName)
	}
}

func (e *Engine) load(ctx context.Context, name string) (*compiled, error) {
	now := e.now()
	e.mu.RLock()
	c, ok := e.cache[name]
	e.mu.RUnlock()
	if ok && now.Before(c.expiresAt) {
		return c, nil
	}

	m, err := e.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("mapper %s not found", name))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "load mapper")
	}
	c, err = e.compile(m)
	if err != nil {
		return nil, err
	}
	c.expiresAt = now.Add(e.ttl)

	e.mu.Lock()
	e.cache[name] = c
	e.mu.Unlock()
	e.logger.DebugContext(ctx, "mapper compiled", "mapper", name, "fields", len(c.fields))
	return c, nil
}

func (e *Engine) compile(m *Mapper) (*compiled, error) {
	if m == nil || len(m.Spec) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "mapper has no fields")
	}

	// Sorted so nested paths are written in a stable order.
	paths := make([]string, 0, len(m.Spec))
	for p := range m.Spec {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	c := &compiled{}
	for _, p := range paths {
		ast, issues := e.env.Compile(m.Spec[p])
		if issues != nil && issues.Err() != nil {
			return nil, dErrors.Wrap(issues.Err(), dErrors.CodeValidation,
				fmt.Sprintf("mapper %s: compile %s", m.Name, p))
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation,
				fmt.Sprintf("mapper %s: program %s", m.Name, p))
		}
		c.fields = append(c.fields, field{path: strings.Split(p, "."), program: prg})
	}

	if len(m.OutputSchema) > 0 {
		url := "mem://mappers/" + m.Name + ".json"
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(url, strings.NewReader(string(m.OutputSchema))); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "load mapper output schema")
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "compile mapper output schema")
		}
		c.schema = schema
	}
	return c, nil
}

func setPath(out map[string]any, path []string, v any) {
	cur := out
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}

// plain re-decodes doc so it only holds the types CEL adapts natively.
func plain(doc map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
