// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable memory for the I/O path: generic object pools and a size-class
// byte slice pool used as scratch space by socket reads.
package pool
