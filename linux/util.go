//go:build linux

package linux

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// UdevInfo captures the udev information about a block device.
type UdevInfo struct {
	// Name of the device in /dev, e.g. sda.
	Name string `json:"name"`

	// SysPath is the path to the device in sysfs.
	SysPath string `json:"sysPath"`

	// Symlinks are the device links relative to /dev.
	Symlinks []string `json:"symLinks"`

	// Properties is the udev key=value environment of the device.
	Properties map[string]string `json:"properties"`
}

// GetUdevInfo return a UdevInfo for the device with kernel name kname.
func GetUdevInfo(kname string) (UdevInfo, error) {
	out, stderr, rc := runCommandWithOutputErrorRc(
		"udevadm", "info", "--query=all", "--export", "--name="+kname)

	info := UdevInfo{Name: kname}

	if rc != 0 {
		return info,
			fmt.Errorf("error querying kname '%s' [%d]: %s", kname, rc, stderr)
	}

	return info, parseUdevInfo(out, &info)
}

func parseUdevInfo(out []byte, info *UdevInfo) error {
	if info.Properties == nil {
		info.Properties = map[string]string{}
	}

	for _, line := range bytes.Split(out, []byte("\n")) {
		if len(line) == 0 {
			continue
		}

		toks := bytes.SplitN(line, []byte(": "), 2)
		if len(toks) != 2 || len(toks[0]) == 0 {
			return fmt.Errorf("error parsing line: %q", line)
		}

		payload := string(toks[1])

		switch toks[0][0] {
		case 'P':
			info.SysPath = payload
		case 'N':
			info.Name = payload
		case 'M', 'L', 'I', 'Q', 'V', 'R', 'U', 'T', 'D':
			// module, link priority, sequence numbers and friends
		case 'S':
			info.Symlinks = append(info.Symlinks, strings.Split(payload, " ")...)
		case 'E':
			kv := strings.SplitN(payload, "=", 2)
			if len(kv) != 2 {
				return fmt.Errorf("bad property line: %q", line)
			}
			// Unquote decodes \x20, \x2f and friends, e.g.
			// ID_MODEL_ENC=Integrated\x20Camera
			s, err := strconv.Unquote("\"" + kv[1] + "\"")
			if err != nil {
				return fmt.Errorf("failed to unquote %#v: %s", kv[1], err)
			}

			info.Properties[kv[0]] = strings.TrimSpace(s)
		default:
			return fmt.Errorf("error parsing line: %q", line)
		}
	}

	return nil
}

func getCommandErrorRCDefault(err error, rcError int) int {
	if err == nil {
		return 0
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}

	return rcError
}

func getCommandErrorRC(err error) int {
	return getCommandErrorRCDefault(err, 127)
}

func cmdError(args []string, out []byte, err []byte, rc int) error {
	if rc == 0 {
		return nil
	}

	return fmt.Errorf(
		"command failed [%d]:\n cmd: %v\nout:%s\nerr%s",
		rc, args, out, err)
}

func runCommandWithOutputErrorRc(args ...string) ([]byte, []byte, int) {
	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	return stdout.Bytes(), stderr.Bytes(), getCommandErrorRC(err)
}

func runCommand(args ...string) error {
	out, err, rc := runCommandWithOutputErrorRc(args...)
	return cmdError(args, out, err, rc)
}

func udevSettle() error {
	return runCommand("udevadm", "settle")
}

func pathExists(d string) bool {
	_, err := os.Stat(d)
	return err == nil
}

// readSysfsString reads a sysfs attribute with surrounding white space
// removed.
func readSysfsString(parts ...string) (string, error) {
	content, err := os.ReadFile(path.Join(parts...))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(content)), nil
}

func readSysfsUint(parts ...string) (uint64, error) {
	s, err := readSysfsString(parts...)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: bad number %q", path.Join(parts...), s)
	}

	return v, nil
}

// readUevent parses the KEY=value lines of a sysfs uevent file.
func readUevent(dir string) (map[string]string, error) {
	content, err := os.ReadFile(path.Join(dir, "uevent"))
	if err != nil {
		return nil, err
	}

	result := map[string]string{}

	for _, kv := range bytes.Split(content, []byte("\n")) {
		key, value, ok := bytes.Cut(kv, []byte("="))
		if !ok {
			continue
		}

		result[string(key)] = string(value)
	}

	return result, nil
}

func getFileSize(file io.Seeker) (uint64, error) {
	var err error
	var cur, pos int64

	// read the current position so we can set it back before return
	if cur, err = file.Seek(0, io.SeekCurrent); err != nil {
		return 0, err
	}

	if pos, err = file.Seek(0, io.SeekEnd); err != nil {
		return 0, err
	}

	if _, err = file.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}

	return uint64(pos), nil
}
