// Package orchestrator implements the three levels of a tier re-verification
// pass on top of the workflow engine:
//
//	tier run -> page run (one per directory page) -> site run (one per site)
//
// Page runs isolate site failures: a site that errors or exceeds its own
// deadline counts as one failed site and contributes no identity counts.
// Tier runs do not isolate page failures: the first failing page fails the
// tier run, which keeps the counts summed from the pages before it.
package orchestrator
