//go:build linux

//nolint:errcheck
package linux_test

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func cmdError(args []string, out []byte, err []byte, rc int) error {
	if rc == 0 {
		return nil
	}

	return fmt.Errorf("command returned %d:\n cmd: %v\n out: %s err: %s", rc, args, out, err)
}

func runCommand(args ...string) error {
	out, err, rc := runCommandWithOutputErrorRc(args...)
	return cmdError(args, out, err, rc)
}

func runCommandWithOutputErrorRc(args ...string) ([]byte, []byte, int) {
	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	rc := 0
	if err := cmd.Run(); err != nil {
		rc = 127
		if exitErr, ok := err.(*exec.ExitError); ok { //nolint:errorlint
			rc = exitErr.ExitCode()
		}
	}

	return stdout.Bytes(), stderr.Bytes(), rc
}

// connectLoop - connect fname to a loop device.
//
//	return cleanup, devicePath, error
func connectLoop(fname string) (func() error, string, error) {
	var cmd = []string{"losetup", "--find", "--show", "--partscan", fname}

	stdout, stderr, rc := runCommandWithOutputErrorRc(cmd...)
	if rc != 0 {
		return func() error { return nil }, "", cmdError(cmd, stdout, stderr, rc)
	}

	devPath := strings.TrimSpace(string(stdout))

	cleanup := func() error {
		return runCommand("losetup", "--detach="+devPath)
	}

	return cleanup, devPath, waitForFileSize(devPath)
}

func waitForFileSize(devPath string) error {
	fp, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return err
	}

	defer fp.Close()

	napLen := time.Millisecond * 10 //nolint: gomnd
	startTime := time.Now()
	endTime := startTime.Add(30 * time.Second) // nolint: gomnd

	for time.Now().Before(endTime) {
		diskLen, err := fp.Seek(0, io.SeekEnd)
		if err != nil {
			return err
		} else if diskLen != 0 {
			return nil
		}

		time.Sleep(napLen)
	}

	return fmt.Errorf("gave up waiting after %v for non-zero length in %s",
		time.Since(startTime), devPath)
}

func getTempFile(t *testing.T, size int64) string {
	name := path.Join(t.TempDir(), "vold_test.img")

	fp, err := os.Create(name)
	if err != nil {
		t.Fatal(err)
	}

	fp.Close()

	if err := os.Truncate(name, size); err != nil {
		t.Fatal(err)
	}

	return name
}

func isRoot() error {
	uid := os.Geteuid()
	if uid == 0 {
		return nil
	}

	return fmt.Errorf("not root (euid=%d)", uid)
}

func writableCharDev(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: did not exist", path)
		}

		return fmt.Errorf("%s: %s", path, err)
	}

	if fi.Mode()&os.ModeCharDevice != os.ModeCharDevice {
		return fmt.Errorf("%s: not a character device", path)
	}

	if err := unix.Access(path, unix.W_OK); err != nil {
		return fmt.Errorf("%s: not writable", path)
	}

	return nil
}

func hasCommand(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s: command not present", name)
	}

	return nil
}

func canUseLoop() error {
	if err := isRoot(); err != nil {
		return err
	}

	if err := writableCharDev("/dev/loop-control"); err != nil {
		return err
	}

	return hasCommand("losetup")
}

func skipIfNoLoop(t *testing.T) {
	if err := canUseLoop(); err != nil {
		t.Skip(err)
	}
}
