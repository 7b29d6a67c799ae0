/*
Package dispatch interprets server events.

Reduce is a pure function from the current store snapshot and one server event
to the store mutations and side effects that event implies. Dispatcher applies
the mutations to a store and hands the side effects (liveness signal,
notifications, UI intents, anomalies) back to the connection loop.
*/
package dispatch
