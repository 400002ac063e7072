package prompt

import (
	"context"
	"fmt"
	"sync"

	"github.com/talchain/olumi-cee/core"
)

// Store is the persistence seam for prompt definitions. A real deployment
// backs this with whatever database or config store it prefers; this
// package only depends on the interface (persistence backends for prompt
// storage are an external collaborator). InMemoryStore below is the
// default used by tests and by deployments with no external store.
type Store interface {
	Load(ctx context.Context, taskID string) (*Definition, error)
	Save(ctx context.Context, def *Definition) error
}

// ErrTaskNotFound is returned by a Store when no definition exists for a
// task id.
var ErrTaskNotFound = fmt.Errorf("prompt: task not found")

// InMemoryStore is a Store backed by a guarded map, sufficient for local
// development and tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{defs: map[string]*Definition{}}
}

func (s *InMemoryStore) Load(_ context.Context, taskID string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defs[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return d, nil
}

func (s *InMemoryStore) Save(_ context.Context, def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.TaskID] = def
	return nil
}

// Experiment is a registered A/B test over a task's prompt.
type Experiment struct {
	Name             string
	TaskID           string
	TreatmentPercent int
	// TreatmentVersion is the version served to the treatment bucket,
	// either a staging version number or a fixed production version.
	TreatmentVersion int
	// ForcedVariant, when non-empty ("treatment" or "control"), overrides
	// bucketing entirely.
	ForcedVariant string
}

// Registry resolves task -> prompt content per §4.1's resolution order
// and serves synchronous reads from an in-process TTL cache.
type Registry struct {
	store    Store
	defaults map[string]string // task id -> default template, for fallback
	cache    *Cache
	logger   core.Logger
	telem    core.Telemetry

	mu          sync.RWMutex
	experiments map[string]*Experiment // keyed by experiment name
}

// NewRegistry builds a Registry over store, with an empty set of
// registered defaults and experiments.
func NewRegistry(store Store, logger core.Logger, telem core.Telemetry) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telem == nil {
		telem = &core.NoOpTelemetry{}
	}
	r := &Registry{
		store:       store,
		defaults:    map[string]string{},
		logger:      logger,
		telem:       telem,
		experiments: map[string]*Experiment{},
	}
	r.cache = NewCache(r.fetchActive, logger, telem)
	return r
}

// RegisterDefault sets the fallback template served when the store is
// unavailable or the task has never been promoted to production.
func (r *Registry) RegisterDefault(taskID, template string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[taskID] = template
}

// RegisterExperiment adds or replaces an experiment definition.
func (r *Registry) RegisterExperiment(exp *Experiment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experiments[exp.Name] = exp
}

func (r *Registry) defaultFor(taskID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults[taskID]
}

func (r *Registry) experimentFor(taskID string) *Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, exp := range r.experiments {
		if exp.TaskID == taskID {
			return exp
		}
	}
	return nil
}

// AddVersion appends a new immutable version to taskID's definition,
// creating the definition (in draft status) if it doesn't exist yet.
func (r *Registry) AddVersion(ctx context.Context, taskID, template string, vars []Variable) (*Version, error) {
	def, err := r.store.Load(ctx, taskID)
	if err != nil {
		if err != ErrTaskNotFound {
			return nil, err
		}
		def = &Definition{TaskID: taskID, Status: StatusDraft}
	}

	next := 1
	for _, v := range def.Versions {
		if v.Number >= next {
			next = v.Number + 1
		}
	}
	v := &Version{Number: next, Template: template, ContentHash: HashTemplate(template), Variables: vars}
	def.Versions = append(def.Versions, v)

	if err := r.store.Save(ctx, def); err != nil {
		return nil, err
	}
	return v, nil
}

// PromoteToProduction sets version as the active production version,
// enforcing the at-most-one-production-per-task invariant: if the task
// already has a different production version, this call fails naming the
// incumbent. Promoting the already-active version is a no-op
// success.
func (r *Registry) PromoteToProduction(ctx context.Context, taskID string, version int) error {
	def, err := r.store.Load(ctx, taskID)
	if err != nil {
		return err
	}
	if def.VersionByNumber(version) == nil {
		return core.NewFrameworkError("prompt.Promote", "prompt", core.ErrNotFound)
	}
	if def.Status == StatusProduction && def.ActiveVersion != 0 && def.ActiveVersion != version {
		fe := core.NewFrameworkError("prompt.Promote", "prompt", core.ErrAlreadyRegistered)
		fe.ID = taskID
		fe.Message = fmt.Sprintf("task %q already has production version %d", taskID, def.ActiveVersion)
		return fe
	}

	def.Status = StatusProduction
	def.ActiveVersion = version
	if err := r.store.Save(ctx, def); err != nil {
		return err
	}
	r.cache.Invalidate(taskID)
	return nil
}

// StageVersion marks version as the staging candidate for taskID without
// promoting it to production.
func (r *Registry) StageVersion(ctx context.Context, taskID string, version int) error {
	def, err := r.store.Load(ctx, taskID)
	if err != nil {
		return err
	}
	if def.VersionByNumber(version) == nil {
		return core.NewFrameworkError("prompt.Stage", "prompt", core.ErrNotFound)
	}
	def.StagingVersion = version
	if def.Status == StatusDraft {
		def.Status = StatusStaging
	}
	return r.store.Save(ctx, def)
}

// fetchActive loads taskID's active production template from the store,
// falling back to the registered default on any store failure. This is
// the cache's refresh function (§4.1(b)/(c)).
func (r *Registry) fetchActive(ctx context.Context, taskID string) (string, error) {
	def, err := r.store.Load(ctx, taskID)
	if err != nil {
		if def := r.defaultFor(taskID); def != "" {
			r.logger.WarnWithContext(ctx, "prompt_fallback_to_default", map[string]interface{}{"task_id": taskID, "err": err.Error()})
			return def, nil
		}
		return "", err
	}
	v := def.ActiveTemplate()
	if v == nil {
		if d := r.defaultFor(taskID); d != "" {
			return d, nil
		}
		return "", core.NewFrameworkError("prompt.fetchActive", "prompt", core.ErrNotFound)
	}
	return v.Template, nil
}

// GetSystemPrompt is the synchronous contract: always returns a usable
// prompt, serving from the TTL cache and falling back to the registered
// default on a miss while scheduling a single background refresh.
func (r *Registry) GetSystemPrompt(operation string, variables map[string]string) string {
	tmpl, _ := r.cache.GetOrDefault(operation, r.defaultFor(operation))
	out, err := Interpolate(tmpl, nil, variables)
	if err != nil {
		return tmpl
	}
	return out
}

// BucketContext is the set of identity fields used for deterministic
// experiment bucketing, tried in the order userID, keyID, requestID, then
// "anonymous".
type BucketContext struct {
	UserID    string
	KeyID     string
	RequestID string
}

func (b BucketContext) subject() string {
	switch {
	case b.UserID != "":
		return b.UserID
	case b.KeyID != "":
		return b.KeyID
	case b.RequestID != "":
		return b.RequestID
	default:
		return "anonymous"
	}
}

// GetSystemPromptAsync honours staging and experiment resolution before
// falling back to the synchronous cache path.
func (r *Registry) GetSystemPromptAsync(ctx context.Context, operation string, bucket BucketContext, variables map[string]string) (string, error) {
	if exp := r.experimentFor(operation); exp != nil {
		treatment, assigned := ResolveExperiment(exp, bucket.subject())
		if assigned {
			r.telem.RecordMetric("prompt.experiment.assignment", 1, map[string]string{"experiment": exp.Name, "variant": "treatment"})
			def, err := r.store.Load(ctx, operation)
			if err == nil {
				if v := def.VersionByNumber(treatment); v != nil {
					if treatment == def.StagingVersion {
						r.telem.RecordMetric("prompt.staging.used", 1, map[string]string{"task": operation})
					}
					return Interpolate(v.Template, v.Variables, variables)
				}
			}
		}
	}

	tmpl, cacheErr := r.cache.GetOrDefault(operation, r.defaultFor(operation))
	if cacheErr != nil {
		return "", cacheErr
	}
	return Interpolate(tmpl, nil, variables)
}
