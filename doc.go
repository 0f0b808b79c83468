// Package sagastack records compensating actions while a long-running process
// executes and runs them in reverse when the process has to be rolled back.
//
// Overview
//
//  1. Register undo actions under stable names:
//     - Wrap each inverse operation with `NewUndoFunc`.
//     - Register it in an `UndoRegistry` with `Register` or `MustRegister`.
//  2. Run compensable steps through a `Stack`:
//     - `ExecuteFunc` and `ExecuteProc` run a step and push its undo when the
//     step succeeds.
//     - `ExecuteFuncAsync` and `ExecuteProcAsync` do the same in a goroutine
//     and return a `Future`. The undo is on the stack before the future
//     completes.
//     - `WithCompensation`, `Compensated` and `WithCompensationAsync` attach an
//     undo to a result computed elsewhere.
//  3. Run nested processes:
//     - A `Worker` is one execution context, identified by its routing key.
//     - `Dispatch` turns a `ChildProcess` into a `ChildInvoker` running on the
//     worker; `ExecuteChildFuncAsync` pushes the nested process's exported
//     stack as a single `NestedEntry`.
//     - A `Router` (`LocalRouter` in process) replays nested entries on the
//     worker that owns them.
//  4. Roll back with `Compensate`, or hand the stack to a caller with
//     `Export`.
//
// Entries cross process boundaries as JSON (`MarshalEntries`); a `Store`
// keeps exported stacks around for replay after a restart.
package sagastack
