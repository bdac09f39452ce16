// Package app wires configuration, the deployment loader, the ledger store
// and the executor into the plan, deploy and ledger operations. It is
// decoupled from any specific entrypoint like a CLI.
package app
