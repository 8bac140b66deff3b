package cleanup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// commandTimeout is the maximum time to wait for a trash command.
const commandTimeout = 30 * time.Second

// trashCommand is an external tool that moves its last argument to the trash.
type trashCommand struct {
	name string
	args []string
}

// linuxTrash lists the tools tried on Linux, in order.
var linuxTrash = []trashCommand{
	{name: "gio", args: []string{"trash"}},
	{name: "trash-put"},
}

// remover deletes paths, moving them to the system trash when asked to.
type remover struct {
	useTrash bool
	commands []trashCommand
}

func newRemover(useTrash bool) *remover {
	r := &remover{useTrash: useTrash}
	if runtime.GOOS == "linux" {
		r.commands = linuxTrash
	}
	return r
}

// remove deletes path and reports whether it went to the trash. Trash
// failures fall back to permanent deletion.
func (r *remover) remove(ctx context.Context, path string) (bool, error) {
	if r.useTrash {
		if r.trash(ctx, path) {
			return true, nil
		}
		logger.Debug("no trash available, deleting", "path", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return false, fmt.Errorf("deleting %q: %w", path, err)
	}
	return false, nil
}

func (r *remover) trash(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if runtime.GOOS == "darwin" {
		// Finder keeps "Put Back" working.
		script := fmt.Sprintf(`tell application "Finder" to delete POSIX file %q`, path)
		return exec.CommandContext(ctx, "osascript", "-e", script).Run() == nil
	}

	for _, c := range r.commands {
		bin, err := exec.LookPath(c.name)
		if err != nil {
			continue
		}
		args := append(append([]string{}, c.args...), path)
		if err := exec.CommandContext(ctx, bin, args...).Run(); err == nil { //nolint:gosec // G204: fixed tool list
			if _, statErr := os.Lstat(path); os.IsNotExist(statErr) {
				return true
			}
		}
	}
	return false
}
