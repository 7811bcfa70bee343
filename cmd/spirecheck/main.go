// Command spirecheck parses and classifies an app description and prints
// its resource table.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"spire/analysis"
	"spire/config"
	"spire/internal/buildinfo"
)

func main() {
	var (
		appPath = flag.String("app", "", "App description to check.")
		watch   = flag.Bool("watch", false, "Re-check whenever the file changes.")
		version = flag.Bool("version", false, "Print the version and exit.")
	)
	flag.Parse()

	if *version {
		fmt.Println("spirecheck", buildinfo.Long())
		return
	}
	if *appPath == "" && flag.NArg() == 1 {
		*appPath = flag.Arg(0)
	}
	if *appPath == "" {
		fatalf("usage: spirecheck [-watch] -app demo.app")
	}

	err := check(os.Stdout, *appPath)
	if !*watch {
		if err != nil {
			fatalf("%v", err)
		}
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if err := watchFile(*appPath, func() {
		fmt.Println("---", time.Now().Format(time.TimeOnly))
		if err := check(os.Stdout, *appPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}); err != nil {
		fatalf("watch: %v", err)
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

// check loads and classifies path and writes the report to w.
func check(w io.Writer, path string) error {
	app, err := config.Load(path)
	if err != nil {
		return err
	}
	plan, err := analysis.Classify(app)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return plan.WriteReport(w)
}

// watchFile calls fn after every burst of changes to path. It returns only
// on watcher errors.
func watchFile(path string, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			drain(watcher.Events)
			fn()
			// editors save by rename, which drops the watch
			_ = watcher.Add(path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return err
		}
	}
}

// drain swallows the rest of a burst so a save is handled once and the file
// is not read half written.
func drain(events <-chan fsnotify.Event) {
	for {
		time.Sleep(10 * time.Millisecond)
		select {
		case <-events:
		default:
			return
		}
	}
}
