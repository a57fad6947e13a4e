//go:build !linux

package sandbox

import (
	"errors"
	"os/exec"
)

type cgroup struct{}

func createCgroup(string, LaunchConfig) (*cgroup, error) {
	return nil, errors.New("cgroups are only supported on linux")
}

func (*cgroup) attach(*exec.Cmd) error { return nil }

func (*cgroup) started() {}

func (*cgroup) kill() error { return nil }

func (*cgroup) oomKilled() bool { return false }

func (*cgroup) remove() error { return nil }
