package redirect

import (
	"strconv"
	"sync"
)

// scope holds the per-Call state: at-exit hooks registered by the unit and
// the last termination it requested.
type scope struct {
	hooks []func()
	last  *Termination
}

var (
	scopeMu sync.Mutex
	// scopes[0] is the process scope used when the unit runs standalone.
	scopes = []*scope{{}}
)

func top() *scope {
	return scopes[len(scopes)-1]
}

func push() *scope {
	s := &scope{}
	scopeMu.Lock()
	scopes = append(scopes, s)
	scopeMu.Unlock()
	return s
}

func pop(s *scope) {
	scopeMu.Lock()
	defer scopeMu.Unlock()
	for i := len(scopes) - 1; i > 0; i-- {
		if scopes[i] == s {
			scopes = append(scopes[:i], scopes[i+1:]...)
			return
		}
	}
}

func (s *scope) lastTermination() *Termination {
	scopeMu.Lock()
	defer scopeMu.Unlock()
	return s.last
}

func noteTermination(t Termination) {
	scopeMu.Lock()
	if s := top(); s.last == nil {
		s.last = &t
	}
	scopeMu.Unlock()
}

// AtExit registers fn to run when the unit calls Exit. Hooks run in reverse
// registration order and are not run by ImmediateExit. Hooks registered
// inside Call are dropped when Call returns.
func AtExit(fn func()) {
	if fn == nil {
		return
	}
	scopeMu.Lock()
	s := top()
	s.hooks = append(s.hooks, fn)
	scopeMu.Unlock()
}

func runAtExit() {
	scopeMu.Lock()
	s := top()
	hooks := s.hooks
	s.hooks = nil
	scopeMu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Call runs fn inside a recovery scope. Termination requests made by fn, or
// by any goroutine it starts, are returned as *Intercepted instead of ending
// the process; a plain return yields fn's value and a nil *Intercepted.
// Panics that are not terminations propagate unchanged.
//
// fn runs on its own goroutine. A termination ends the goroutine that
// requested it, and Call returns once fn's goroutine has finished. A unit
// that blocks forever after another of its goroutines asked to exit keeps
// Call waiting.
//
// A termination is reported even when fn carries on afterwards, because the
// request has already been made. The first request in a scope wins.
//
// Calls may nest but must not overlap across goroutines: the scope stack
// and the installed handler are process-wide.
func Call(fn func() int) (ret int, ic *Intercepted) {
	s := push()
	restore := Install(Stop)
	defer func() {
		restore()
		pop(s)
	}()

	var (
		done     = make(chan struct{})
		returned bool
		failure  interface{}
	)
	go func() {
		defer close(done)
		defer func() {
			// recover yields nil while Goexit unwinds.
			if !returned {
				failure = recover()
			}
		}()
		ret = fn()
		returned = true
	}()
	<-done

	if failure != nil {
		panic(failure)
	}
	if t := s.lastTermination(); t != nil {
		return 0, &Intercepted{Termination: *t}
	}
	return ret, nil
}

// Outcome is what the harness observes after invoking a renamed entry point.
type Outcome struct {
	// Returned is true when the entry point returned normally; Status is
	// then its return value and Kind is meaningless.
	Returned bool
	Kind     Kind
	Status   int
}

func (o Outcome) String() string {
	if o.Returned {
		return "returned " + strconv.Itoa(o.Status)
	}
	return (&Intercepted{Termination{Kind: o.Kind, Status: o.Status}}).Error()
}

// Invoke calls main with (len(argv), argv) inside Call.
func Invoke(main MainFunc, argv []string) Outcome {
	ret, ic := Call(func() int {
		return main(len(argv), argv)
	})
	if ic != nil {
		return Outcome{Kind: ic.Kind, Status: ic.Status}
	}
	return Outcome{Returned: true, Status: ret}
}
