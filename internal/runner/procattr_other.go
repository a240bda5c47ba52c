//go:build !unix

package runner

import "os/exec"

func setProcAttr(cmd *exec.Cmd) {}
