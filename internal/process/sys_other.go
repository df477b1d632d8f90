//go:build !unix

package process

import (
	"errors"
	"os/exec"
)

var errUnsupported = errors.New("not supported on this platform")

func setProcAttr(*exec.Cmd) {}

func killGroup(int) error { return errUnsupported }

func raisePriority(int, int) error { return errUnsupported }
