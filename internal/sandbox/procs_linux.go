//go:build linux

package sandbox

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const canCountGroup = true

// groupSize counts the live processes in process group pgid.
func groupSize(pgid int) int {
	n := 0
	forEachPID(func(pid string) {
		stat, err := os.ReadFile(filepath.Join("/proc", pid, "stat"))
		if err != nil {
			return
		}
		// The command name may contain spaces; fields resume after ')'.
		i := bytes.LastIndexByte(stat, ')')
		if i < 0 {
			return
		}
		fields := strings.Fields(string(stat[i+1:]))
		if len(fields) < 3 || fields[0] == "Z" {
			return
		}
		if pgrp, err := strconv.Atoi(fields[2]); err == nil && pgrp == pgid {
			n++
		}
	})
	return n
}

// userTasks counts the threads whose real uid is uid, the figure the
// kernel holds RLIMIT_NPROC against.
func userTasks(uid int) uint64 {
	var n uint64
	want := strconv.Itoa(uid)
	forEachPID(func(pid string) {
		f, err := os.Open(filepath.Join("/proc", pid, "status"))
		if err != nil {
			return
		}
		defer f.Close()

		var owned bool
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			key, val, ok := strings.Cut(sc.Text(), ":")
			if !ok {
				continue
			}
			fields := strings.Fields(val)
			switch key {
			case "Uid":
				owned = len(fields) > 0 && fields[0] == want
			case "Threads":
				if owned && len(fields) > 0 {
					if t, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
						n += t
					}
				}
				return
			}
		}
	})
	return n
}

func forEachPID(fn func(pid string)) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return
	}
	for _, e := range entries {
		if name := e.Name(); name[0] >= '0' && name[0] <= '9' {
			fn(name)
		}
	}
}
