// Package mangle keeps a deductive fact store of captured selections so
// agents can ask cross-session questions ("which components were picked",
// "where does this component live") in Datalog.
package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"grabctx-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

//go:embed selection.mg
var defaultSchema string

// ErrNotReady is returned by queries when the engine is disabled.
var ErrNotReady = errors.New("fact store not ready")

// Fact is one ground atom with the time it was recorded.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// Engine wraps a Mangle program and an in-memory store. Base facts are also
// kept in an ordered buffer so the store can be rebuilt when the buffer
// limit drops old sessions.
type Engine struct {
	cfg config.MangleConfig

	mu          sync.RWMutex
	sources     []string
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore

	facts []Fact
	index map[string][]int
}

// NewEngine loads the schema from cfg.SchemaPath, or the bundled selection
// schema when no path is set.
func NewEngine(cfg config.MangleConfig) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		store: factstore.NewSimpleInMemoryStore(),
		index: make(map[string][]int),
	}
	if !cfg.Enable {
		return e, nil
	}
	if cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
		return e, nil
	}
	if err := e.setSources([]string{defaultSchema}); err != nil {
		return nil, fmt.Errorf("bundled schema: %w", err)
	}
	return e, nil
}

// LoadSchema replaces the program with the contents of path.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return e.setSources([]string{string(data)})
}

// AddRule extends the program with more declarations and rules. The whole
// program is re-analyzed, so a rule may refer to anything already loaded.
func (e *Engine) AddRule(source string) error {
	if !e.cfg.Enable {
		return nil
	}
	e.mu.RLock()
	sources := append(append([]string(nil), e.sources...), source)
	e.mu.RUnlock()
	return e.setSources(sources)
}

func (e *Engine) setSources(sources []string) error {
	unit, err := parse.Unit(strings.NewReader(strings.Join(sources, "\n")))
	if err != nil {
		return fmt.Errorf("parse program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze program: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources = sources
	e.programInfo = info
	return e.evalLocked()
}

// AddFacts records base facts and re-derives everything.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.facts = append(e.facts, facts...)
	if limit := e.cfg.FactBufferLimit; limit > 0 && len(e.facts) > limit {
		e.facts = append([]Fact(nil), e.facts[len(e.facts)-limit:]...)
		e.rebuildLocked()
	} else {
		base := len(e.facts) - len(facts)
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], base+i)
			e.store.Add(factToAtom(f))
		}
	}
	return e.evalLocked()
}

// rebuildLocked recreates the store and index from the buffer.
func (e *Engine) rebuildLocked() {
	e.store = factstore.NewSimpleInMemoryStore()
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
		e.store.Add(factToAtom(f))
	}
}

func (e *Engine) evalLocked() error {
	if e.programInfo == nil {
		return nil
	}
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		log.Printf("[mangle] eval failed: %v", err)
		return fmt.Errorf("eval program: %w", err)
	}
	return nil
}

// Query matches a single atom such as `component_file("Button", F).`
// against base and derived facts. Variables are bound by name; `_` is
// ignored.
func (e *Engine) Query(ctx context.Context, query string) ([]QueryResult, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query != "" && !strings.HasSuffix(query, ".") {
		query += "."
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(query)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	atom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(atom, func(found ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range atom.Args {
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" && i < len(found.Args) {
				result[v.Symbol] = convertConstant(found.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Evaluate returns every fact of predicate, base or derived.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}

	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	query := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	now := time.Now()
	facts := make([]Fact, 0)
	err := e.store.GetFacts(query, func(atom ast.Atom) error {
		facts = append(facts, atomToFact(atom, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return facts, nil
}

// Predicates lists the declared predicates as name/arity, sorted.
func (e *Engine) Predicates() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.programInfo == nil {
		return nil
	}
	out := make([]string, 0, len(e.programInfo.Decls))
	for sym := range e.programInfo.Decls {
		out = append(out, fmt.Sprintf("%s/%d", sym.Symbol, sym.Arity))
	}
	slices.Sort(out)
	return out
}

// FactsByPredicate returns buffered base facts of one predicate.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	out := make([]Fact, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(e.facts) {
			out = append(out, e.facts[i])
		}
	}
	return out
}

// Facts returns a copy of the buffered base facts.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// Ready reports whether queries can run.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Enable && e.programInfo != nil
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}, Args: args}
}

func atomToFact(atom ast.Atom, ts time.Time) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: ts}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(t ast.BaseTerm) interface{} {
	c, ok := t.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", t)
	}
	switch c.Type {
	case ast.StringType:
		if s, err := c.StringValue(); err == nil {
			return s
		}
	case ast.NumberType:
		if n, err := c.NumberValue(); err == nil {
			return n
		}
	case ast.Float64Type:
		if f, err := c.Float64Value(); err == nil {
			return f
		}
	}
	return c.String()
}
