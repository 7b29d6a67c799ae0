// Package process runs a local runtime as a child process and talks to it
// over stdio, one JSON message per line. Endpoints look like
// process://<name>[/<project>], where name must be registered.
package process
