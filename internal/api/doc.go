// Package api exposes the dashboard pages as JSON endpoints: the layout
// wallet state, the home chain snapshot, agents, market, transactions and
// the local activity journal, plus /metrics and /healthz.
package api
