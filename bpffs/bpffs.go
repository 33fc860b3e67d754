// Package bpffs checks and mounts the BPF filesystem backing the edt
// driver's pinned maps.
//
// Map pins only work on a bpf mount. On most hosts /sys/fs/bpf is
// already mounted and the pin directory sits below it, but a daemon
// confined to a private runtime dir gets a fresh mount there instead,
// so the check accepts any path at or beneath an existing bpf mount
// point.
package bpffs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// DefaultMountInfoPath is where the kernel reports this
	// process's mount table.
	DefaultMountInfoPath = "/proc/self/mountinfo"

	// Some runtimes produce very long mountinfo lines; a larger
	// scanner buffer prevents bufio.ErrTooLong.
	maxMountInfoLine = 1024 * 1024
)

// OnBpffs reports whether path sits on a bpf filesystem, either as a
// mount point itself or beneath one, by parsing mountInfoPath.
//
// The mountinfo format is documented in proc(5):
//
//	mount_id parent_id major:minor root mount_point options [optional...] - fstype source super_options
//
// The " - " separator has to be located by search rather than by
// field position: optional fields such as "shared:N" may or may not
// appear before it. libmount parses the line the same way.
func OnBpffs(mountInfoPath, path string) (bool, error) {
	file, err := os.Open(mountInfoPath)
	if err != nil {
		return false, fmt.Errorf("open mountinfo: %w", err)
	}
	defer file.Close()

	target := filepath.Clean(path)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMountInfoLine)

	for scanner.Scan() {
		line := scanner.Text()

		sepIdx := strings.Index(line, " - ")
		if sepIdx == -1 {
			continue
		}

		fields := strings.Fields(line[:sepIdx])
		if len(fields) < 5 {
			continue
		}
		mountPoint := fields[4]

		suffixFields := strings.Fields(line[sepIdx+3:])
		if len(suffixFields) < 1 || suffixFields[0] != "bpf" {
			continue
		}

		if target == mountPoint || strings.HasPrefix(target, mountPoint+"/") {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read mountinfo: %w", err)
	}

	return false, nil
}

// Mount mounts a fresh bpffs at dir, creating the directory first if
// needed.
func Mount(dir string) error {
	fi, err := os.Stat(dir)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return fmt.Errorf("mount point %s exists but is not a directory", dir)
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create mount point: %w", err)
		}
	default:
		return fmt.Errorf("stat mount point: %w", err)
	}

	if err := unix.Mount("bpffs", dir, "bpf", 0, ""); err != nil {
		return fmt.Errorf("mount bpffs at %s: %w", dir, err)
	}

	return nil
}

// Unmount unmounts the bpffs at dir.
func Unmount(dir string) error {
	if err := unix.Unmount(dir, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", dir, err)
	}
	return nil
}

// EnsureMounted makes sure dir sits on a bpf filesystem, mounting one
// at dir when it does not.
func EnsureMounted(mountInfoPath, dir string) error {
	ok, err := OnBpffs(mountInfoPath, dir)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return Mount(dir)
}
