//go:build !unix

package workspace

import "os"

const lockingSupported = false

// Without flock every other instance is assumed alive, so Sweep only ever
// cleans this process's own directory.
func tryLock(*os.File) (bool, error) { return false, nil }
