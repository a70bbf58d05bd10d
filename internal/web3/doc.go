// Package web3 houses blockchain connectivity utilities: the chain client
// interface used as the dashboard's read-only "public client", chain
// descriptors loaded from YAML, and helpers for ABI-encoded view calls.
// Transaction signing lives in the wallet package.
package web3
