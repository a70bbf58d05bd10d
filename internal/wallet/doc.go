// Package wallet implements the process wide wallet context: a Provider
// standing in for the injected wallet (remote JSON-RPC wallet or local key),
// the Session shared by all pages, and the WalletClient used to deploy and
// call contracts as the connected account.
package wallet
