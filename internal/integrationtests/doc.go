// Package integrationtests drives the app end to end: HCL definitions on
// disk, the loader, the planner, the pipeline and a real ledger store.
package integrationtests
