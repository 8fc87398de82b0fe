// Package broadcast holds the subscriber side of the relay: the registry of
// connected sessions and the fan-out that pushes each upstream frame to them.
//
// Every Session owns a bounded send queue drained by its own writer goroutine,
// so one slow or broken subscriber never delays the others. The Broadcaster
// only enqueues; it never removes sessions from the Registry. Removal is left
// to the goroutine reading the session's connection.
package broadcast
