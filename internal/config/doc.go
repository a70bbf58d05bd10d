// Package config loads the dashboard daemon configuration: an optional JSON
// file, environment variable overrides (contract addresses, backend endpoint,
// chain RPC) and defaults pointing at the Monad testnet. It also carries the
// enum constants shared by the page services.
package config
