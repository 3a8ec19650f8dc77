package redirect

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
)

var (
	ErrInvalidEntry   = errors.New("invalid entry point")
	ErrDuplicateEntry = errors.New("entry point already registered")
)

// MainFunc is the signature a renamed entry point is invoked with.
type MainFunc func(argc int, argv []string) int

// Entry is a monitored unit's primary entry point under a harness-chosen name.
type Entry struct {
	Name string
	Main MainFunc
}

// Rename exposes fn under name. The function itself is not altered.
func Rename(name string, fn MainFunc) *Entry {
	return &Entry{Name: name, Main: fn}
}

// Invoke runs the entry once inside a recovery scope.
func (e *Entry) Invoke(argv []string) Outcome {
	return Invoke(e.Main, argv)
}

var (
	entriesMu sync.RWMutex
	entries   = map[string]*Entry{}
)

// Register makes e available to Lookup. It is meant to be called from the
// init function of a rewritten unit.
func Register(e *Entry) error {
	if e == nil || e.Name == "" || e.Main == nil {
		return ErrInvalidEntry
	}
	entriesMu.Lock()
	defer entriesMu.Unlock()
	if _, ok := entries[e.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Name)
	}
	entries[e.Name] = e
	return nil
}

// MustRegister is Register for init functions; it panics on error.
func MustRegister(e *Entry) {
	if err := Register(e); err != nil {
		panic(err)
	}
}

// Lookup returns the entry registered under name.
func Lookup(name string) (*Entry, bool) {
	entriesMu.RLock()
	defer entriesMu.RUnlock()
	e, ok := entries[name]
	return e, ok
}

// Entries lists registered entry names in sorted order.
func Entries() []string {
	entriesMu.RLock()
	defer entriesMu.RUnlock()
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromGoMain adapts a renamed Go main, which reads os.Args, to MainFunc.
// os.Args is set to argv[:argc] for the duration of the call. Falling off
// the end of main is status 0.
//
// flag.CommandLine is replaced by a fresh set for the call, carrying over
// the flags declared at package level, so flags declared inside main are
// defined anew each time. A flag parse error becomes Exit(2), and -help
// becomes Exit(0), matching flag.ExitOnError.
func FromGoMain(fn func()) MainFunc {
	return func(argc int, argv []string) int {
		if argc >= 0 && argc < len(argv) {
			argv = argv[:argc]
		}
		savedArgs, savedFlags := os.Args, flag.CommandLine
		defer func() { os.Args, flag.CommandLine = savedArgs, savedFlags }()

		os.Args = argv
		name := savedFlags.Name()
		if len(argv) > 0 {
			name = argv[0]
		}
		fs, usageShown := commandLine(savedFlags, name)
		flag.CommandLine = fs

		defer func() {
			if !*usageShown {
				return
			}
			r := recover()
			if r == nil {
				return
			}
			err, ok := r.(error)
			if !ok {
				panic(r)
			}
			if errors.Is(err, flag.ErrHelp) {
				Exit(0)
			}
			Exit(2)
		}()

		fn()
		return 0
	}
}

// commandLine returns a PanicOnError flag set holding parent's flags. The
// flag package shows usage right before it fails a parse, which is how a
// flag panic is told apart from any other.
func commandLine(parent *flag.FlagSet, name string) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet(name, flag.PanicOnError)
	fs.SetOutput(parent.Output())
	parent.VisitAll(func(f *flag.Flag) {
		fs.Var(f.Value, f.Name, f.Usage)
	})

	shown := new(bool)
	fs.Usage = func() {
		*shown = true
		flag.Usage()
	}
	return fs, shown
}

// Main runs e as the process entry point: termination requests end the
// process as they would without redirection, and the return value becomes
// the exit status.
func Main(e *Entry) {
	Install(processExit)
	Exit(e.Main(len(os.Args), os.Args))
}
