// Package repair runs the iterative workflow repair loop.
//
// An Orchestrator validates the session's current graph with the execution
// backend, classifies a failed verdict as a connection, parameter or
// structural problem, and dispatches the matching Strategy. Strategies edit
// the graph through a fixer.Applier, so every edit leaves a pre-edit and a
// post-edit checkpoint behind. When a dispatch does not change the failure
// signature the run escalates to the next strategy, ending at structural.
//
// Each run streams Records: the accumulated narration text plus one
// structured Event. The stream always ends with a single Done record whose
// Summary names the terminal state (success, exhausted or fatal) and the
// final checkpoint written for the run.
package repair
