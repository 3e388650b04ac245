//go:build !linux

package sandbox

// TODO: apply setrlimit on darwin via a re-exec helper; prlimit is Linux only.
func applyLimits(int, Policy) error { return nil }
