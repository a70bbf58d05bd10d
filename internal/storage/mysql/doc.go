// Package mysql persists the dashboard activity journal in MySQL. It owns the
// connection pool setup and applies the embedded schema migrations from
// deploy/migrations on start-up.
package mysql
