package deps

import (
	"context"
	stderrors "errors"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/metadata"
	"github.com/matzehuels/piprecipes/pkg/observability"
	"github.com/matzehuels/piprecipes/pkg/requirements"
	"github.com/matzehuels/piprecipes/pkg/version"
)

// Resolver walks runtime dependencies into a closure.
type Resolver struct {
	source Source
	opts   Options
}

// NewResolver creates a Resolver fetching metadata from source.
func NewResolver(source Source, opts Options) *Resolver {
	return &Resolver{source: source, opts: opts.WithDefaults()}
}

// ResolveClosure resolves initial and every runtime dependency reachable
// from it. Each package appears once, keyed by its normalized name.
//
// Per-package failures are recorded in the closure and never returned as
// errors. The only error is ctx.Err(), returned together with the packages
// resolved before cancellation.
func (r *Resolver) ResolveClosure(ctx context.Context, initial []requirements.Requirement) (*Closure, error) {
	start := time.Now()
	w := &walk{
		Resolver: r,
		nodes:    make(map[string]*node),
		limited:  make(map[string]bool),
	}
	observability.Pipeline().OnResolveStart(ctx, len(initial))

	var level []*node
	for _, req := range initial {
		if n := w.request(req.Key(), req.Specifier, "", 0); n != nil {
			level = append(level, n)
		}
	}

	var err error
	for len(level) > 0 {
		w.fetchLevel(ctx, level)
		level = w.merge(ctx, level)
		if err = ctx.Err(); err != nil {
			w.opts.Logger.Warn("resolution cancelled", "resolved", w.resolved())
			break
		}
	}

	closure := w.closure()
	observability.Pipeline().OnResolveComplete(ctx, len(closure.Packages), len(closure.Failures), time.Since(start), err)
	return closure, err
}

type node struct {
	name        string
	constraints []version.Specifier
	sources     map[string]map[string]bool // constraint text -> requesting packages
	dependents  map[string]bool
	root        bool
	depth       int

	meta       *metadata.PackageMetadata
	err        error
	conflict   bool
	reresolved bool

	// Per-fetch scratch, written by exactly one goroutine.
	result   *metadata.PackageMetadata
	fetchErr error
	mismatch bool
}

type walk struct {
	*Resolver
	nodes   map[string]*node
	limited map[string]bool
	order   []string
}

// request records one requirement edge. It returns the node when it has to
// be fetched, or nil when the name is already known, in flight or over the
// package limit.
func (w *walk) request(name string, constraint version.Specifier, from string, depth int) *node {
	n, known := w.nodes[name]
	if !known {
		if len(w.nodes) >= w.opts.MaxPackages {
			if !w.limited[name] {
				w.limited[name] = true
				w.opts.Logger.Warn("package limit reached", "package", name, "limit", w.opts.MaxPackages)
			}
			return nil
		}
		n = &node{name: name, sources: make(map[string]map[string]bool), dependents: make(map[string]bool), depth: depth}
		w.nodes[name] = n
		w.order = append(w.order, name)
	}
	if from == "" {
		n.root = true
	} else {
		n.dependents[from] = true
	}
	key := constraint.String()
	if n.sources[key] == nil {
		n.sources[key] = make(map[string]bool)
		n.constraints = append(n.constraints, constraint)
	}
	n.sources[key][from] = true
	if known {
		return nil
	}
	return n
}

func (w *walk) fetchLevel(ctx context.Context, level []*node) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for _, n := range level {
		constraints := slices.Clone(n.constraints)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				n.fetchErr = err
				return err
			}
			n.result, n.mismatch, n.fetchErr = w.fetch(gctx, n.name, constraints)
			if isContextErr(n.fetchErr) {
				return n.fetchErr
			}
			return nil
		})
	}
	// Only cancellation fails the group; the caller checks ctx.
	_ = g.Wait()
}

// fetch resolves name against constraints under the conflict policy. The
// returned flag reports that no single release satisfied every constraint.
func (w *walk) fetch(ctx context.Context, name string, constraints []version.Specifier) (*metadata.PackageMetadata, bool, error) {
	if w.opts.Policy == FirstSeen || len(constraints) == 1 {
		meta, err := w.source.Resolve(ctx, name, constraints[0])
		if err != nil {
			return nil, false, err
		}
		return meta, !satisfiesAll(meta, constraints), nil
	}

	meta, err := w.source.Resolve(ctx, name, version.Specifier{}.And(constraints...))
	if err == nil || !errors.Is(err, errors.ErrCodePackageNotFound) {
		return meta, false, err
	}

	narrow := w.mostRestrictive(ctx, name, constraints)
	meta, fallbackErr := w.source.Resolve(ctx, name, narrow)
	if fallbackErr != nil {
		if isContextErr(fallbackErr) {
			return nil, false, fallbackErr
		}
		return nil, false, err
	}
	return meta, true, nil
}

// mostRestrictive returns the constraint admitting the fewest published
// versions. Ties go to the earliest constraint.
func (w *walk) mostRestrictive(ctx context.Context, name string, constraints []version.Specifier) version.Specifier {
	versions, err := w.source.Versions(ctx, name)
	if err != nil {
		return constraints[0]
	}
	best, fewest := constraints[0], -1
	for _, c := range constraints {
		if n := len(c.Filter(versions, false)); fewest < 0 || n < fewest {
			best, fewest = c, n
		}
	}
	return best
}

// merge folds fetched results into the walk in sorted name order and
// returns the next level.
func (w *walk) merge(ctx context.Context, level []*node) []*node {
	sort.Slice(level, func(i, j int) bool { return level[i].name < level[j].name })

	var next []*node
	touched := make(map[string]bool)
	for _, n := range level {
		result, err, mismatch := n.result, n.fetchErr, n.mismatch
		n.result, n.fetchErr, n.mismatch = nil, nil, false

		switch {
		case isContextErr(err) || (err == nil && result == nil):
			continue
		case err != nil:
			if n.meta == nil {
				n.err = err
				w.opts.Logger.Warn("resolve failed", "package", n.name, "err", err)
			} else {
				n.conflict = true
				w.opts.Logger.Warn("re-resolve failed, keeping previous version", "package", n.name, "version", n.meta.Version, "err", err)
			}
			observability.Pipeline().OnPackageResolved(ctx, n.name, "", err)
			continue
		}

		if n.meta != nil && n.meta.Version != result.Version {
			w.opts.Logger.Info("changed version after conflict", "package", n.name, "from", n.meta.Version, "to", result.Version)
			w.dropEdges(n.name, n.meta.Dependencies, result.Dependencies)
		}
		n.meta = result
		n.conflict = n.conflict || mismatch
		w.opts.Logger.Debug("resolved", "package", n.name, "version", result.Version, "depth", n.depth)
		observability.Pipeline().OnPackageResolved(ctx, n.name, result.Version, nil)

		for _, dep := range result.Dependencies {
			if child := w.request(dep.Key(), dep.Specifier, n.name, n.depth+1); child != nil {
				next = append(next, child)
			} else {
				touched[dep.Key()] = true
			}
		}
	}

	queued := make(map[string]bool, len(next))
	for _, n := range next {
		queued[n.name] = true
	}
	for _, name := range sortedKeys(touched) {
		n, ok := w.nodes[name]
		if !ok || n.meta == nil || queued[name] {
			continue
		}
		if w.reconcile(n) {
			next = append(next, n)
		}
	}
	return next
}

// dropEdges withdraws the requirements from made by a superseded release.
// Edges the new release repeats verbatim are kept.
func (w *walk) dropEdges(from string, old, current []requirements.Requirement) {
	kept := make(map[string]bool, len(current))
	for _, dep := range current {
		kept[dep.Key()+" "+dep.Specifier.String()] = true
	}
	for _, dep := range old {
		key := dep.Specifier.String()
		if kept[dep.Key()+" "+key] {
			continue
		}
		n, ok := w.nodes[dep.Key()]
		if !ok {
			continue
		}
		delete(n.dependents, from)
		if srcs := n.sources[key]; srcs != nil {
			delete(srcs, from)
			if len(srcs) == 0 {
				delete(n.sources, key)
				n.constraints = slices.DeleteFunc(n.constraints, func(c version.Specifier) bool { return c.String() == key })
			}
		}
	}
}

// reachable returns the names reachable from the roots over the edges of
// the releases finally chosen.
func (w *walk) reachable() map[string]bool {
	live := make(map[string]bool)
	var stack []string
	for _, name := range w.order {
		if w.nodes[name].root {
			live[name] = true
			stack = append(stack, name)
		}
	}
	for len(stack) > 0 {
		n := w.nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if n.meta == nil {
			continue
		}
		for _, dep := range n.meta.Dependencies {
			key := dep.Key()
			if live[key] {
				continue
			}
			live[key] = true
			if _, ok := w.nodes[key]; ok {
				stack = append(stack, key)
			}
		}
	}
	return live
}

// reconcile checks a resolved node against constraints that arrived after
// it was resolved. It reports whether the node must be resolved again.
func (w *walk) reconcile(n *node) bool {
	if satisfiesAll(n.meta, n.constraints) {
		return false
	}
	if w.opts.Policy == FirstSeen || n.reresolved {
		n.conflict = true
		return false
	}
	n.reresolved = true
	return true
}

func (w *walk) resolved() int {
	count := 0
	for _, n := range w.nodes {
		if n.meta != nil {
			count++
		}
	}
	return count
}

func (w *walk) closure() *Closure {
	c := &Closure{}
	live := w.reachable()
	for _, name := range w.order {
		n := w.nodes[name]
		if !live[name] {
			if n.meta != nil {
				w.opts.Logger.Debug("dropping unreachable package", "package", name, "version", n.meta.Version)
			}
			continue
		}
		switch {
		case n.meta != nil:
			c.Packages = append(c.Packages, ResolvedPackage{
				PackageMetadata: n.meta,
				License:         w.opts.Licenses.Map(n.meta.DeclaredLicense),
				Dependents:      sortedKeys(n.dependents),
				Constraints:     constraintStrings(n.constraints),
				Root:            n.root,
				Depth:           n.depth,
			})
			if n.conflict {
				c.Conflicts = append(c.Conflicts, Conflict{
					Name:        n.name,
					Constraints: constraintStrings(n.constraints),
					Chosen:      n.meta.Version,
					Policy:      w.opts.Policy,
				})
			}
		case n.err != nil:
			c.Failures = append(c.Failures, Failure{
				Name:       n.name,
				Constraint: version.Specifier{}.And(n.constraints...).String(),
				Code:       errors.GetCode(n.err),
				Reason:     errors.UserMessage(n.err),
				Dependents: sortedKeys(n.dependents),
				Err:        n.err,
			})
		}
	}
	for _, name := range sortedKeys(w.limited) {
		if !live[name] {
			continue
		}
		c.Failures = append(c.Failures, Failure{
			Name:   name,
			Code:   errors.ErrCodeLimitExceeded,
			Reason: "closure exceeds the package limit",
		})
	}

	sort.Slice(c.Packages, func(i, j int) bool { return c.Packages[i].Name < c.Packages[j].Name })
	sort.Slice(c.Failures, func(i, j int) bool { return c.Failures[i].Name < c.Failures[j].Name })
	sort.Slice(c.Conflicts, func(i, j int) bool { return c.Conflicts[i].Name < c.Conflicts[j].Name })
	return c
}

func satisfiesAll(meta *metadata.PackageMetadata, constraints []version.Specifier) bool {
	v, err := version.Parse(meta.Version)
	if err != nil {
		return true
	}
	for _, c := range constraints {
		if !c.Contains(v) {
			return false
		}
	}
	return true
}

func constraintStrings(cs []version.Specifier) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		s := c.String()
		if s == "" {
			s = "*"
		}
		out = append(out, s)
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isContextErr(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
