/*
Package session lets independent call sites share one connection per project.

The Coordinator hands out Handles. The first Attach for a project creates its
connection manager; later ones reuse it and supersede the previous attachment's
notification sink and probe cycle. Managers are reference counted and closed
when the last Handle detaches, so no call site ever spawns a second heartbeat
or reconnect loop.
*/
package session
