/*
Package store holds the reconciled execution state of one project.

A Store keeps the workflow state, one state per component, and the current
evaluation and optimization runs. Every setter performs the write and then
synchronously notifies subscribers with a Change naming the touched slot.

Run slots remember the run ids they have retired so that late messages from a
superseded run can be recognized and dropped by the dispatcher.
*/
package store
