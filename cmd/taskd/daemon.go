package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/chazu/taskd/config"
)

// daemonEnv marks the re-executed daemon process.
const daemonEnv = "TASKD_DAEMONIZED"

func isDaemonChild() bool { return os.Getenv(daemonEnv) == "1" }

// daemonize re-executes taskd in a new session with its standard streams
// on /dev/null and its working directory at /, then returns in the parent.
// Paths are passed to the child in absolute form.
func daemonize(cfg *config.Config, verbose int, pidFile string, rest []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate executable: %w", err)
	}

	args := []string{}
	if cfg.Path != "" {
		args = append(args, "-config", cfg.Path)
	}
	for i := 0; i < verbose; i++ {
		args = append(args, "-v")
	}
	if pidFile != "" {
		abs, err := filepath.Abs(pidFile)
		if err != nil {
			return err
		}
		args = append(args, "-pidfile", abs)
	}
	args = append(args, "-daemon")
	args = append(args, rest...)

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer null.Close()

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.Dir = "/"
	cmd.Stdin, cmd.Stdout, cmd.Stderr = null, null, null
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cannot start daemon: %w", err)
	}
	return cmd.Process.Release()
}

// enterDaemon finishes detaching inside the child.
func enterDaemon() {
	unix.Umask(0)
	os.Unsetenv(daemonEnv)
}
