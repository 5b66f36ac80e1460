/*
Package process runs an analysis server (a language server such as
pyright-langserver) and talks JSON-RPC to it over its stdio.

# Lifecycle

	Spawned --initialize(id 0)--> AwaitReady --response id 0, initialized--> Ready
	   any state --EOF, exit or Kill--> Terminated

Spawn does not return until the server answered initialize, so requests are
never sent to a half-initialized server. Every correlated request carries a
deadline: an unanswered request resolves with ErrProtocolTimeout, and every
outstanding request resolves with ErrProcessTerminated when the server dies.

# Server requests

Requests initiated by the server (workspace/configuration,
client/registerCapability, window/workDoneProgress/create and anything else)
are answered immediately with null results so the server never stalls.

# Notifications

Notifications are delivered in arrival order on Notifications(). The channel
is closed once the process is terminated; consumers use the close as the
shutdown signal.
*/
package process
