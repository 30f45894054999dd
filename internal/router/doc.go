// Package router exposes the bridge's command contract over a loopback HTTP
// server: one POST /command endpoint taking a typed command message and
// answering with a single {ok, ...} / {ok:false, error} envelope per request.
package router
