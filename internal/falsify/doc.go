// Package falsify proves the verification layers actually detect
// defects.
//
// The harness maintains a catalog of machine mutations, each paired
// with the exact failure signal the engine must raise for it. Every
// catalog entry is applied to the baseline machine, the mutant is
// pushed through the validator and (when it survives validation) the
// executor, and the observed failure is matched against the expected
// signature. An entry that produces no failure, or the wrong kind of
// failure, is a harness failure in its own right: the protective
// layers have a blind spot, and that blocks release regardless of all
// other passing checks.
//
// Mutations are data, not code: a serializable descriptor (kind plus
// parameters) and an expected-signature descriptor. New mutation
// classes extend the catalog without touching the harness control
// flow.
//
// Machines are immutable values, so catalog entries are embarrassingly
// parallel: the harness runs them across an errgroup-bounded worker
// pool with per-entry timeout isolation. One hung mutant cannot stall
// the batch.
package falsify
