// Package relay ties the upstream feed to the subscriber registry.
//
// A Service owns one upstream connector, the registry of downstream sessions
// and the counters exposed by the health endpoint. Every frame received from
// the feed is counted and fanned out to the sessions registered at that moment.
// The feed is dialled lazily on the first subscription and stays connected
// until Stop, including while no subscribers remain.
package relay
