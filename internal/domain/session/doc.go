// Package session multiplexes editor and chat connections onto one live
// session per conversation.
//
// A Session owns the conversation's notebook synchronizer, the analysis
// server fed from it and the execution engine. The Registry reference counts
// sessions: the first Connect creates one, the last Disconnect tears it down,
// both under the registry lock so no caller observes a half-built or
// half-removed session.
//
// When the analysis server exits on its own, editor subscribers are closed
// while execution keeps working. The next Subscribe or request starts a new
// server from the synchronizer's current state. Repeated exits within the
// respawn window open a circuit breaker and requests fail fast until the
// cooldown passes.
//
// Example Usage:
//
//	reg := session.NewRegistry(session.Options{
//	    Spawn:  session.ProcessSpawner(cfg, log, metrics),
//	    Engine: engines,
//	})
//	s, err := reg.Connect(ctx, conv, messages)
//	defer reg.Release(s)
package session
