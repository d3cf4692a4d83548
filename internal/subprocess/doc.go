// Package subprocess provides the stdio transport to a spawned peer process.
//
// This package implements config.Transport by launching the peer as a child
// process and exchanging framed messages over its stdin and stdout. It handles
// executable lookup, process lifecycle, stderr policy, and the bounded
// shutdown sequence (close stdin, wait, kill).
package subprocess
