// Package bodies implements the Job Body Registry (spec §4.5): the catalog
// of named job bodies a job's body_type resolves to, plus the
// representative bodies for the four job trees spec.md documents
// (register-root, startup-root, shutdown-root, deregister-root).
package bodies

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// SuccessFunc reports a body's successful completion: output becomes the
// fragment merged into the parent's context (spec §4.2); summary is a
// human-readable label.
type SuccessFunc func(output types.Context, summary string)

// FailureFunc reports a body's failure. A body MUST call exactly one of
// SuccessFunc/FailureFunc (spec §4.5).
type FailureFunc func(summary string)

// Body is a named capability a job's body_type resolves to. The dispatcher
// runs it on job.Node, or locally when job.Node is empty or when
// RequiresCoordinator reports that it must run in the coordinator process.
type Body interface {
	Start(job *types.Job, logger zerolog.Logger, onSuccess SuccessFunc, onFailure FailureFunc)
}

type registeredBody struct {
	body      Body
	timeout   time.Duration
	paramType interface{} // zero value of the typed parameter struct, or nil
}

// Registry is the Job Body Registry. It satisfies jobstore.BodyRegistry
// structurally so the store can validate job creation without importing
// this package.
type Registry struct {
	mu       sync.RWMutex
	bodies   map[string]*registeredBody
	validate *validator.Validate
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bodies:   make(map[string]*registeredBody),
		validate: validator.New(),
	}
}

// Option configures a Register call.
type Option func(*registeredBody)

// WithTimeout overrides the default job timeout for this body type
// (SPEC_FULL Open Question 2).
func WithTimeout(d time.Duration) Option {
	return func(rb *registeredBody) { rb.timeout = d }
}

// WithParamSchema declares the typed parameter struct (tagged for
// go-playground/validator) this body's parameters must decode into.
// zeroValue should be a pointer to a zero-valued instance, e.g. &Params{}.
func WithParamSchema(zeroValue interface{}) Option {
	return func(rb *registeredBody) { rb.paramType = zeroValue }
}

// Register adds body under name.
func (r *Registry) Register(name string, body Body, opts ...Option) {
	rb := &registeredBody{body: body}
	for _, opt := range opts {
		opt(rb)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies[name] = rb
}

// Exists implements jobstore.BodyRegistry.
func (r *Registry) Exists(bodyType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bodies[bodyType]
	return ok
}

// Validate implements jobstore.BodyRegistry: SchemaInvalid is reported by
// decoding parameters into the body's declared schema struct (if any) and
// running go-playground/validator's struct tags over it.
func (r *Registry) Validate(bodyType string, parameters types.Context) error {
	r.mu.RLock()
	rb, ok := r.bodies[bodyType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bodies: unknown body %q", bodyType)
	}
	if rb.paramType == nil {
		return nil
	}

	data, err := json.Marshal(parameters)
	if err != nil {
		return fmt.Errorf("bodies: encode parameters: %w", err)
	}
	target := newZero(rb.paramType)
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("bodies: decode parameters: %w", err)
	}
	if err := r.validate.Struct(target); err != nil {
		return fmt.Errorf("bodies: %w", err)
	}
	return nil
}

// Get returns the registered body for bodyType.
func (r *Registry) Get(bodyType string) (Body, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rb, ok := r.bodies[bodyType]
	if !ok {
		return nil, false
	}
	return rb.body, true
}

// TimeoutFor returns the body's declared timeout override, or ok=false if
// it uses the process default.
func (r *Registry) TimeoutFor(bodyType string) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rb, ok := r.bodies[bodyType]
	if !ok || rb.timeout == 0 {
		return 0, false
	}
	return rb.timeout, true
}

// RequiresCoordinator reports whether body mutates the Job Record Store
// directly to grow the tree (PivotBody, ChainBody). Such bodies run in the
// coordinator process regardless of the job's assigned node: job.Node is an
// affinity label consumed by the opaque runtime/package plugins a
// ChainBody's Work step calls into, not a statement that the Go code itself
// executes there. Only genuinely leaf bodies dispatch over the Node
// Channel to pkg/heart.
func RequiresCoordinator(body Body) bool {
	switch body.(type) {
	case *PivotBody, *ChainBody:
		return true
	default:
		return false
	}
}

// newZero allocates a fresh zero-valued instance of the same pointer type
// as sample, so concurrent Validate calls never share a struct.
func newZero(sample interface{}) interface{} {
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface()
	}
	return reflect.New(t).Interface()
}
