// Package sim is a stand-in engine subsystem. Each engine is a worker that
// advances an instruction counter while it is online, started and not
// waiting. Engines can be hung on command so the watchdog, the interrupt
// rules and the shutdown drain can be exercised end to end.
package sim
