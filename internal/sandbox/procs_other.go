//go:build !linux

package sandbox

const canCountGroup = false

func groupSize(int) int { return 0 }
