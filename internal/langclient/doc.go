// Package langclient runs one language server as a child process and speaks
// the lifecycle subset of the Language Server Protocol to it.
//
// A Client is a single-use handle: Start spawns the server and completes the
// initialize/initialized handshake, Stop sends shutdown and exit and waits
// for the process to leave, Dispose kills whatever is left. Requests the
// server sends that the client does not implement are answered with
// MethodNotFound so the server never waits on them.
//
// Transport is the Content-Length framed JSON-RPC 2.0 connection underneath.
// It is symmetric and is also used to build fake servers in tests.
package langclient
