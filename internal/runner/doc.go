// Package runner executes operator commands.
//
// Commands arrive from four places: an rc script at startup (RunScript),
// standard input in daemon mode (RunInput), and the console and control
// socket in interactive mode. The last two are queued and signalled on a
// notify.Pair; Serve is the single dispatcher that drains them.
package runner
