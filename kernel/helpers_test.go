package kernel

import (
	"testing"

	"spire/analysis"
	"spire/config"
	"spire/hal"
)

func acc(pairs ...any) []config.Access {
	var out []config.Access
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, config.Access{Resource: pairs[i].(string), Mode: pairs[i+1].(config.Mode)})
	}
	return out
}

type rig struct {
	k    *Kernel
	mask *hal.SimMask
	rec  *Recorder
}

func newRig(t *testing.T, app *config.App, opts ...Option) *rig {
	t.Helper()
	plan, err := analysis.Classify(app)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	r := &rig{mask: hal.NewSimMask(), rec: &Recorder{}}
	opts = append([]Option{WithTracer(r.rec)}, opts...)
	r.k = New(plan, r.mask, opts...)
	return r
}

func (r *rig) id(t *testing.T, name string) TaskID {
	t.Helper()
	id, ok := r.k.TaskID(name)
	if !ok {
		t.Fatalf("TaskID(%q) not found", name)
	}
	return id
}

func (r *rig) bind(t *testing.T, name string, body func(*Context)) {
	t.Helper()
	if err := r.k.Bind(name, body); err != nil {
		t.Fatalf("Bind(%q) error = %v", name, err)
	}
}

func (r *rig) start(t *testing.T, init func(*InitContext) error) {
	t.Helper()
	if err := r.k.Start(init); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (r *rig) step(t *testing.T) int {
	t.Helper()
	n, err := r.k.Step()
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	return n
}

func declare[T any](t *testing.T, k *Kernel, name string, v T) *Resource[T] {
	t.Helper()
	r, err := Declare(k, name, v)
	if err != nil {
		t.Fatalf("Declare(%q) error = %v", name, err)
	}
	return r
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
