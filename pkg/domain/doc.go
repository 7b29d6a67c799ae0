/*
Package domain contains the core data model shared by every part of the Tether client.

It defines the connection state machine, the execution states reported by the
runtime for the workflow, its components and the evaluation/optimization runs,
and the user-facing notifications and intents produced while reconciling them.
This package is kept pure and free of I/O, following Hexagonal Architecture
principles.

# Key Entities

  - ConnectionState: Disconnected, ConnectingTransport, ConnectingRuntime, Connected, with an explicit transition table.
  - ExecutionState: status of the workflow or of a single component.
  - RunState: status of an evaluation or optimization run, identified by RunID.
  - Notification: a toast-style message for the UI (informational or error).
  - Intent: a UI request such as selecting a component or opening a results panel.
*/
package domain
