// Package redirect intercepts process termination inside a monitored unit so
// a fuzz harness can run the unit's entry point repeatedly in one process.
//
// A monitored unit is compiled with its termination calls replaced:
//
//	os.Exit(code)      -> redirect.Exit(code)
//	syscall.Exit(code) -> redirect.ImmediateExit(code)
//	func main()        -> func Main() (registered with Rename/Register)
//
// internal/rewrite performs that substitution on source. Both termination
// operations forward to a single Handler. Outside a harness the handler ends
// the process; inside Call it ends the requesting goroutine with
// runtime.Goexit, and Call hands the request back as *Intercepted with the
// status untouched. This holds for goroutines the unit starts as well.
//
// Go cannot leave a stack without running deferred calls, so the two
// operations differ only in at-exit hooks: Exit runs hooks registered with
// AtExit, ImmediateExit does not.
//
// FromGoMain gives every invocation a fresh flag.CommandLine, so a main
// that declares flags can run many times, and flag errors become Exit(2)
// instead of ending the process.
package redirect
