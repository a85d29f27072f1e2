//go:build !unix

package process

import "os/exec"

func killGroupOnCancel(cmd *exec.Cmd) {}
