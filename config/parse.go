package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/google/shlex"
)

// ParseError reports a malformed line in an app description.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Load reads an app description from a file.
func Load(path string) (*App, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open app description %q: %w", path, err)
	}
	defer f.Close()

	app, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return app, nil
}

// Parse reads a line-oriented app description:
//
//	priorities 8
//	memory 64KiB
//	resource shared size=4
//	resource buf late size=1KiB
//	task uart0 priority=1 binds=UART0 exclusive=shared local=buf
//	task nmi priority=3 binds=NMI boot
//	idle lockfree=e2
//
// Tokens follow shell quoting rules and '#' starts a comment.
func Parse(r io.Reader) (*App, error) {
	app := &App{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		words, err := shlex.Split(sc.Text())
		if err != nil {
			return nil, &ParseError{Line: line, Msg: err.Error()}
		}
		if len(words) == 0 {
			continue
		}
		if err := parseLine(app, words); err != nil {
			return nil, &ParseError{Line: line, Msg: err.Error()}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

func parseLine(app *App, words []string) error {
	switch words[0] {
	case "priorities":
		if len(words) != 2 {
			return fmt.Errorf("usage: priorities N")
		}
		n, err := strconv.Atoi(words[1])
		if err != nil || n <= 0 || n > 255 {
			return fmt.Errorf("invalid priority count %q", words[1])
		}
		app.Priorities = n
	case "memory":
		if len(words) != 2 {
			return fmt.Errorf("usage: memory SIZE")
		}
		n, err := units.RAMInBytes(words[1])
		if err != nil {
			return fmt.Errorf("invalid memory size %q: %v", words[1], err)
		}
		app.Memory = n
	case "resource":
		return parseResource(app, words[1:])
	case "task":
		return parseTask(app, words[1:])
	case IdleName:
		if app.Idle != nil {
			return fmt.Errorf("idle declared twice")
		}
		idle := &Idle{}
		for _, w := range words[1:] {
			key, val, _ := strings.Cut(w, "=")
			acc, ok, err := parseAccess(key, val)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("idle: unknown attribute %q", w)
			}
			idle.Access = append(idle.Access, acc...)
		}
		app.Idle = idle
	default:
		return fmt.Errorf("unknown directive %q", words[0])
	}
	return nil
}

func parseResource(app *App, words []string) error {
	if len(words) == 0 {
		return fmt.Errorf("usage: resource NAME [late] [size=SIZE]")
	}
	res := Resource{Name: words[0]}
	for _, w := range words[1:] {
		key, val, hasVal := strings.Cut(w, "=")
		switch {
		case key == "late" && !hasVal:
			res.Late = true
		case key == "size" && hasVal:
			n, err := units.RAMInBytes(val)
			if err != nil {
				return fmt.Errorf("resource %s: invalid size %q: %v", res.Name, val, err)
			}
			res.Size = n
		default:
			return fmt.Errorf("resource %s: unknown attribute %q", res.Name, w)
		}
	}
	app.Resources = append(app.Resources, res)
	return nil
}

func parseTask(app *App, words []string) error {
	if len(words) == 0 {
		return fmt.Errorf("usage: task NAME priority=N [binds=SRC] [boot] [MODE=r1,r2]")
	}
	task := Task{Name: words[0]}
	for _, w := range words[1:] {
		key, val, hasVal := strings.Cut(w, "=")
		switch {
		case key == "boot" && !hasVal:
			task.Boot = true
		case key == "priority" && hasVal:
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 || n > 255 {
				return fmt.Errorf("task %s: invalid priority %q", task.Name, val)
			}
			task.Priority = Priority(n)
		case key == "binds" && hasVal:
			task.Binds = val
		default:
			acc, ok, err := parseAccess(key, val)
			if err != nil {
				return fmt.Errorf("task %s: %v", task.Name, err)
			}
			if !ok {
				return fmt.Errorf("task %s: unknown attribute %q", task.Name, w)
			}
			task.Access = append(task.Access, acc...)
		}
	}
	app.Tasks = append(app.Tasks, task)
	return nil
}

func parseAccess(key, val string) ([]Access, bool, error) {
	mode, ok := ParseMode(key)
	if !ok {
		return nil, false, nil
	}
	if val == "" {
		return nil, true, fmt.Errorf("%s: empty resource list", key)
	}
	var out []Access
	for _, name := range strings.Split(val, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, true, fmt.Errorf("%s: empty resource name", key)
		}
		out = append(out, Access{Resource: name, Mode: mode})
	}
	return out, true, nil
}
