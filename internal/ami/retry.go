package ami

import "syscall"

// errInterrupted is compared against via errors.Is to retry reads that
// failed with EINTR, which some platforms surface through net.Conn.Read.
var errInterrupted = syscall.EINTR
