// Package agent implements the runtime around one configured agent: bus
// subscription lifecycle, sender authorization, transcript bookkeeping,
// observer hooks, the optional single-flight gate, and the processing
// pipeline from incoming message through prompt building, the tool-call
// loop and response routing.
package agent
