/*
Package observability turns client lifecycle hooks into Prometheus metrics.

Metrics registers its collectors on a caller-provided registerer and exposes
Hooks, a domain.LifecycleHooks value to pass to the client. Hooks can be
combined with other hooks (e.g. logging) through Chain.
*/
package observability
