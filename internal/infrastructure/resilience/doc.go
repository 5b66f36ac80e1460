/*
Package resilience provides a circuit breaker.

Sessions use it to guard analysis server respawns. Spawn attempts run
through Execute; a server that dies after a successful start is reported
with Failure. Threshold failures within Window open the breaker and
respawns are refused with ErrCircuitOpen until Cooldown elapses. The next
attempt is a trial:

	Closed --[threshold in window]-> Open --[cooldown]-> Half-Open --[trial ok]-> Closed
	                                   ^                     |
	                                   +----[trial fails]----+

Usage:

	breaker := resilience.New("analysis", resilience.Settings{
		Threshold: 3,
		Window:    time.Minute,
		Cooldown:  30 * time.Second,
	})
	err := breaker.Execute(spawn)
	// later, when the process exits on its own
	breaker.Failure()
*/
package resilience
