package redirect

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
)

// Kind identifies which designated termination operation was requested.
type Kind int

const (
	// KindNormal is os.Exit: at-exit hooks run before control leaves.
	KindNormal Kind = iota
	// KindImmediate is syscall.Exit: no hooks run.
	KindImmediate
)

func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "exit"
	case KindImmediate:
		return "immediate_exit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Termination is the one value carried across the interception boundary.
type Termination struct {
	Kind   Kind
	Status int
}

// Handler receives every termination request of the monitored unit.
// It must not return normally.
type Handler func(Termination)

// Intercepted is the panic value raised by Throw. It is also an error so
// callers can pass it along with errors.As.
type Intercepted struct {
	Termination
}

func (e *Intercepted) Error() string {
	return fmt.Sprintf("%s status %d", e.Kind, e.Status)
}

// Is matches another *Intercepted with the same kind and status.
func (e *Intercepted) Is(target error) bool {
	t, ok := target.(*Intercepted)
	return ok && t.Termination == e.Termination
}

var handler atomic.Pointer[Handler]

func init() {
	h := Handler(processExit)
	handler.Store(&h)
}

// processExit is the handler in effect when no harness is installed, so a
// rewritten unit still behaves like the original program.
func processExit(t Termination) {
	os.Exit(t.Status)
}

// Install makes h the handler for every subsequent termination request and
// returns a function restoring the previous one.
func Install(h Handler) (restore func()) {
	if h == nil {
		h = processExit
	}
	prev := handler.Swap(&h)
	return func() { handler.Store(prev) }
}

// Throw converts a termination request into a panic carrying *Intercepted.
// It suits callers that recover on the goroutine that terminates.
func Throw(t Termination) {
	panic(&Intercepted{Termination: t})
}

// Stop ends the requesting goroutine, running its deferred calls. It is the
// handler installed by Call, and works from any goroutine the unit starts:
// the request is already noted in the current scope when Stop runs.
func Stop(Termination) {
	runtime.Goexit()
}

// Exit replaces os.Exit in the monitored unit. At-exit hooks of the current
// scope run first, then the installed handler receives the status unchanged.
func Exit(code int) {
	t := Termination{Kind: KindNormal, Status: code}
	runAtExit()
	forward(t)
}

// ImmediateExit replaces syscall.Exit in the monitored unit. No hooks run.
func ImmediateExit(code int) {
	forward(Termination{Kind: KindImmediate, Status: code})
}

func forward(t Termination) {
	noteTermination(t)
	(*handler.Load())(t)
	// A handler that returns must not resume the unit.
	Throw(t)
}
