package shared

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/flosch/pongo2/v4"
	"github.com/mattn/go-isatty"
	"github.com/pmezard/go-difflib/difflib"
	yaml "gopkg.in/yaml.v2"
)

// ErrAborted is returned when the user declines a confirmation prompt.
var ErrAborted = errors.New("Aborted by user")

// Copy copies a file.
func Copy(src, dest string) error {
	var err error

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("Failed to open file %q: %w", src, err)
	}

	defer srcFile.Close()

	destFile, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("Failed to create file %q: %w", dest, err)
	}

	defer destFile.Close()

	_, err = io.Copy(destFile, srcFile)
	if err != nil {
		return fmt.Errorf("Failed to copy file: %w", err)
	}

	return destFile.Sync()
}

// CopyPreserve copies a file and keeps its permission bits and modification time.
func CopyPreserve(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("Failed to stat %q: %w", src, err)
	}

	err = Copy(src, dest)
	if err != nil {
		return err
	}

	err = os.Chmod(dest, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("Failed to chmod %q: %w", dest, err)
	}

	err = os.Chtimes(dest, info.ModTime(), info.ModTime())
	if err != nil {
		return fmt.Errorf("Failed to set times on %q: %w", dest, err)
	}

	return nil
}

// CopyTree recursively copies the content of src into dest, following symlinks.
func CopyTree(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("Failed to read directory %q: %w", src, err)
	}

	err = os.MkdirAll(dest, 0755)
	if err != nil {
		return fmt.Errorf("Failed to create directory %q: %w", dest, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())

		info, err := os.Stat(srcPath)
		if err != nil {
			return fmt.Errorf("Failed to stat %q: %w", srcPath, err)
		}

		if info.IsDir() {
			err = CopyTree(srcPath, destPath)
		} else {
			err = CopyPreserve(srcPath, destPath)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// IsDirEmpty returns true if the directory has no entries.
func IsDirEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}

	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}

	return false, err
}

// PrepareOutputDir creates dir if needed and makes sure it's empty.
func PrepareOutputDir(dir string) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("Failed to create directory %q: %w", dir, err)
	}

	empty, err := IsDirEmpty(dir)
	if err != nil {
		return fmt.Errorf("Failed to read directory %q: %w", dir, err)
	}

	if !empty {
		return fmt.Errorf("%s is not empty", dir)
	}

	return nil
}

// RunCommand runs a command. Stdout is written to the given io.Writer. If nil, it's written to the real stdout. Stderr is always written to the real stderr.
func RunCommand(ctx context.Context, stdin io.Reader, stdout io.Writer, name string, arg ...string) error {
	return RunCommandDir(ctx, "", stdin, stdout, name, arg...)
}

// RunCommandDir is like RunCommand but runs the command inside dir.
func RunCommandDir(ctx context.Context, dir string, stdin io.Reader, stdout io.Writer, name string, arg ...string) error {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Dir = dir

	if stdin != nil {
		cmd.Stdin = stdin
	}

	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = os.Stdout
	}

	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("Failed to run %q: %w", strings.Join(cmd.Args, " "), err)
	}

	return nil
}

// Retry retries a function up to <attempts> times. This is especially useful for networking.
func Retry(f func() error, attempts uint) error {
	var err error

	for i := uint(0); i < attempts; i++ {
		err = f()
		// Stop retrying if the call succeeded or if the context has been cancelled.
		if err == nil || errors.Is(err, context.Canceled) {
			break
		}

		time.Sleep(time.Second)
	}

	return err
}

// RenderTemplate renders a pongo2 template.
func RenderTemplate(template string, iface any) (string, error) {
	// Serialize interface
	data, err := yaml.Marshal(iface)
	if err != nil {
		return "", err
	}

	// Decode document and write it to a pongo2 Context
	var ctx pongo2.Context

	err = yaml.Unmarshal(data, &ctx)
	if err != nil {
		return "", fmt.Errorf("Failed unmarshalling data: %w", err)
	}

	// Load template from string
	tpl, err := pongo2.FromString("{% autoescape off %}" + template + "{% endautoescape %}")
	if err != nil {
		return "", err
	}

	return tpl.Execute(ctx)
}

// UnifiedDiff returns the unified diff between a and b, or an empty string if they are identical.
func UnifiedDiff(a, b, fromFile, toFile string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  3,
	}

	return difflib.GetUnifiedDiffString(diff)
}

// IsTerminal returns true if stdin is attached to a terminal.
func IsTerminal() bool {
	fd := os.Stdin.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// BufferedReader returns r itself when it already is a *bufio.Reader.
func BufferedReader(r io.Reader) *bufio.Reader {
	br, ok := r.(*bufio.Reader)
	if ok {
		return br
	}

	return bufio.NewReader(r)
}

// PromptYesNo writes msg to w and reads one line from r. Only answers starting with "y" count as yes.
// io.EOF is returned when r has no more input. Pass the same reader to every prompt on a stream.
func PromptYesNo(r *bufio.Reader, w io.Writer, msg string) (bool, error) {
	_, err := fmt.Fprint(w, msg)
	if err != nil {
		return false, err
	}

	line, err := r.ReadString('\n')
	if errors.Is(err, io.EOF) && line == "" {
		return false, io.EOF
	}

	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("Failed to read answer: %w", err)
	}

	return strings.HasPrefix(line, "y"), nil
}
