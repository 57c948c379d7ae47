// Package lsptypes runs language servers as subprocesses and exposes their
// analysis through typed sessions. Processes speak the LSP base protocol
// over stdio and can be pooled and recycled across sessions.
package lsptypes
