// Package web3 houses the chain side of a wallet session: chain definitions
// loaded from YAML, the Chain read interface used by session providers and
// the account/snapshot types reported to collaborators. The ethereum
// subpackage implements it for EVM networks and derives session accounts
// from the public identity exposed by the wallet agent.
package web3
