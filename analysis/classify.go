// Package analysis is the offline pass that turns a config.App into a Plan:
// each resource gets an access class and a ceiling, and every unsound
// combination is rejected before a kernel can be built.
package analysis

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/go-units"

	"spire/config"
)

// Classify validates app and computes the access plan.
//
// The result is a pure function of app. All findings are reported together,
// in declaration order, joined into one error; errors.Is matches their kinds.
func Classify(app *config.App) (*Plan, error) {
	if app == nil {
		return nil, invalidf("", "", "nil app")
	}

	p := &Plan{
		Levels:    app.Levels(),
		Memory:    app.Memory,
		taskIndex: make(map[string]TaskID),
		resIndex:  make(map[string]ResourceID),
	}

	var errs []error
	errs = append(errs, p.resolveResources(app)...)
	errs = append(errs, p.resolveTasks(app)...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for i := range p.Resources {
		if err := p.classify(&p.Resources[i]); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, p.checkLate()...)
	if err := p.checkBudget(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}

func (p *Plan) resolveResources(app *config.App) []error {
	var errs []error
	if len(app.Resources) > MaxResources {
		return []error{invalidf("", "", "%d resources, at most %d supported", len(app.Resources), MaxResources)}
	}
	for _, r := range app.Resources {
		if r.Name == "" {
			errs = append(errs, invalidf("", "", "resource with empty name"))
			continue
		}
		if _, dup := p.resIndex[r.Name]; dup {
			errs = append(errs, invalidf("", r.Name, "declared twice"))
			continue
		}
		if r.Size < 0 {
			errs = append(errs, invalidf("", r.Name, "negative size %d", r.Size))
			continue
		}
		id := ResourceID(len(p.Resources))
		p.resIndex[r.Name] = id
		p.Resources = append(p.Resources, ResourceInfo{
			ID:   id,
			Name: r.Name,
			Late: r.Late,
			Size: r.Size,
		})
		p.Used += r.Size
	}
	return errs
}

func (p *Plan) resolveTasks(app *config.App) []error {
	var errs []error
	n := len(app.Tasks)
	if app.Idle != nil {
		n++
	}
	if n > MaxTasks {
		return []error{invalidf("", "", "%d tasks, at most %d supported", n, MaxTasks)}
	}
	if p.Levels < 1 || p.Levels > 255 {
		return []error{invalidf("", "", "priority level count %d out of range 1..255", p.Levels)}
	}

	sources := make(map[string]string)
	for _, t := range app.Tasks {
		switch {
		case t.Name == "":
			errs = append(errs, invalidf("", "", "task with empty name"))
			continue
		case t.Name == config.IdleName:
			errs = append(errs, invalidf(t.Name, "", "name is reserved for the idle task"))
			continue
		}
		if _, dup := p.taskIndex[t.Name]; dup {
			errs = append(errs, invalidf(t.Name, "", "declared twice"))
			continue
		}
		if t.Priority < 1 || int(t.Priority) > p.Levels {
			errs = append(errs, invalidf(t.Name, "", "priority %d out of range 1..%d", t.Priority, p.Levels))
			continue
		}
		if t.Binds != "" {
			if other, dup := sources[t.Binds]; dup {
				errs = append(errs, invalidf(t.Name, "", "activation source %s already bound by %s", t.Binds, other))
				continue
			}
			sources[t.Binds] = t.Name
		}
		id := TaskID(len(p.Tasks))
		p.taskIndex[t.Name] = id
		p.Tasks = append(p.Tasks, TaskInfo{
			ID:       id,
			Name:     t.Name,
			Priority: t.Priority,
			Binds:    t.Binds,
			Boot:     t.Boot,
		})
		errs = append(errs, p.resolveAccess(id, t.Name, t.Access)...)
	}

	if app.Idle != nil {
		id := TaskID(len(p.Tasks))
		p.taskIndex[config.IdleName] = id
		p.idle, p.hasIdle = id, true
		p.Tasks = append(p.Tasks, TaskInfo{ID: id, Name: config.IdleName, Idle: true})
		errs = append(errs, p.resolveAccess(id, config.IdleName, app.Idle.Access)...)
	}
	return errs
}

func (p *Plan) resolveAccess(id TaskID, task string, access []config.Access) []error {
	var errs []error
	for _, a := range access {
		rid, ok := p.resIndex[a.Resource]
		if !ok {
			errs = append(errs, invalidf(task, "", "access to undeclared resource %s", a.Resource))
			continue
		}
		if a.Mode < config.Exclusive || a.Mode > config.TaskLocal {
			errs = append(errs, invalidf(task, a.Resource, "invalid access mode %d", a.Mode))
			continue
		}
		if prev := p.access[id][rid]; prev != 0 {
			errs = append(errs, invalidf(task, a.Resource, "accessed twice (%s and %s)", prev, a.Mode))
			continue
		}
		p.access[id][rid] = a.Mode
	}
	return errs
}

// classify assigns r its class and ceiling from the accessor set.
func (p *Plan) classify(r *ResourceInfo) error {
	var (
		shared, exclusive, lockFree, local int
		distinct                           = make(map[config.Priority]struct{})
	)
	for _, t := range p.Tasks {
		mode := p.access[t.ID][r.ID]
		if mode == 0 {
			continue
		}
		r.Accessors = append(r.Accessors, Accessor{Task: t.ID, Priority: t.Priority, Mode: mode})
		if t.Priority > r.Ceiling {
			r.Ceiling = t.Priority
		}
		distinct[t.Priority] = struct{}{}
		switch mode {
		case config.Shared:
			shared++
		case config.Exclusive:
			exclusive++
		case config.LockFree:
			lockFree++
		case config.TaskLocal:
			local++
		}
	}

	switch {
	case len(r.Accessors) == 0:
		r.Class = Unused
	case local > 0 && len(r.Accessors) > 1:
		return conflictf("", r.Name, "task-local resource claimed by %s", p.describe(r.Accessors))
	case shared > 0 && shared < len(r.Accessors):
		return conflictf("", r.Name, "shared readers mixed with writers: %s", p.describe(r.Accessors))
	case len(r.Accessors) == 1:
		r.Class = TaskLocal
	case shared > 0:
		r.Class = SharedUnlocked
	case len(distinct) == 1:
		// Writers at one priority cannot preempt each other.
		r.Class = LockFreeSamePriority
	case lockFree > 0:
		return conflictf("", r.Name, "lock-free access from different priorities: %s", p.describe(r.Accessors))
	default:
		r.Class = ExclusiveLocked
	}
	return nil
}

// checkLate rejects late resources touched by tasks that may run while init
// is still producing their values.
func (p *Plan) checkLate() []error {
	var errs []error
	for _, r := range p.Resources {
		if !r.Late {
			continue
		}
		for _, a := range r.Accessors {
			t := p.Tasks[a.Task]
			if t.Boot {
				errs = append(errs, conflictf(t.Name, r.Name, "late resource accessed by boot task (source %s is live before init completes)", sourceName(t)))
			}
		}
	}
	return errs
}

func (p *Plan) checkBudget() error {
	if p.Memory <= 0 || p.Used <= p.Memory {
		return nil
	}
	return &ConfigError{
		Kind: ErrMemoryBudget,
		Msg:  fmt.Sprintf("static resources need %s, budget is %s", units.BytesSize(float64(p.Used)), units.BytesSize(float64(p.Memory))),
	}
}

func (p *Plan) describe(accs []Accessor) string {
	parts := make([]string, 0, len(accs))
	for _, a := range accs {
		parts = append(parts, fmt.Sprintf("%s %s@%d", a.Mode, p.Tasks[a.Task].Name, a.Priority))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func sourceName(t TaskInfo) string {
	if t.Binds == "" {
		return "software"
	}
	return t.Binds
}
