// Package detect inspects a home directory for existing zsh configuration:
// startup files, the history file, and an installed framework.
package detect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
)

var logger = logging.Get("detect")

// ErrDetectionPartial marks a path that was skipped during detection.
// Detection never fails as a whole; skipped paths are reported as
// diagnostics wrapping this error.
var ErrDetectionPartial = errors.New("detection incomplete")

// ConfigCandidates are the zsh startup files looked for, in load order.
var ConfigCandidates = []string{".zshenv", ".zprofile", ".zshrc", ".zlogin", ".zlogout"}

// HistoryCandidates are history file names; the first that exists wins.
var HistoryCandidates = []string{".zsh_history", ".history", ".histfile"}

// PrimaryConfig is the file scanned for framework source lines.
const PrimaryConfig = ".zshrc"

// Framework describes a framework detection recognizes.
type Framework struct {
	Name string

	// Dirs are home-relative install directories, most common first.
	Dirs []string

	// Markers are substrings that identify the framework in a source line.
	Markers []string
}

// KnownFrameworks is the table of recognized frameworks. Order decides the
// winner when several are installed and none is sourced.
var KnownFrameworks = []Framework{
	{Name: "oh-my-zsh", Dirs: []string{".oh-my-zsh"}, Markers: []string{"oh-my-zsh", "$ZSH/"}},
	{Name: "prezto", Dirs: []string{".zprezto"}, Markers: []string{"zprezto"}},
	{Name: "zinit", Dirs: []string{".zinit", ".local/share/zinit"}, Markers: []string{"zinit"}},
	{Name: "zimfw", Dirs: []string{".zim"}, Markers: []string{"zimfw", ".zim/"}},
	{Name: "antidote", Dirs: []string{".antidote"}, Markers: []string{"antidote"}},
}

// Detect inspects home and returns what it found. It always returns a
// result; paths that could not be inspected are listed in Diagnostics.
func Detect(home string) *types.ShellConfigInfo {
	info := &types.ShellConfigInfo{Home: home}

	for _, name := range ConfigCandidates {
		if IsGenerated(filepath.Join(home, name)) {
			info.Diagnostics = append(info.Diagnostics, diag(name, ErrGenerated))
			continue
		}
		if cf, ok := inspectFile(info, name); ok {
			info.ConfigFiles = append(info.ConfigFiles, cf)
			info.TotalSize += cf.Size
		}
	}

	for _, name := range HistoryCandidates {
		if !fsutil.Exists(filepath.Join(home, name)) {
			continue
		}
		cf, ok := inspectFile(info, name)
		if !ok {
			break
		}
		lines, err := fsutil.CountLines(filepath.Join(home, name))
		if err != nil {
			info.Diagnostics = append(info.Diagnostics, diag(name, err))
			break
		}
		info.HistoryFile = &types.HistoryFile{Path: name, Size: cf.Size, LineCount: lines}
		info.ConfigFiles = append(info.ConfigFiles, cf)
		info.TotalSize += cf.Size
		break
	}

	if fw := detectFramework(info); fw != nil {
		info.Framework = fw
		info.TotalSize += fw.Size
	}

	logger.Debug("detection finished",
		"home", home,
		"files", len(info.ConfigFiles),
		"framework", frameworkName(info.Framework),
		"diagnostics", len(info.Diagnostics),
	)
	return info
}

// inspectFile stats one home-relative file. It reports false when the file
// is absent or could not be inspected; the latter adds a diagnostic.
func inspectFile(info *types.ShellConfigInfo, rel string) (types.ConfigFile, bool) {
	path := filepath.Join(info.Home, rel)

	lst, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.ConfigFile{}, false
	}
	if err != nil {
		info.Diagnostics = append(info.Diagnostics, diag(rel, err))
		return types.ConfigFile{}, false
	}

	cf := types.ConfigFile{Path: rel}
	if lst.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			info.Diagnostics = append(info.Diagnostics, diag(rel, err))
			return types.ConfigFile{}, false
		}
		cf.IsSymlink = true
		cf.Target = target
	}

	st, err := os.Stat(path)
	if err != nil {
		info.Diagnostics = append(info.Diagnostics, diag(rel, err))
		return types.ConfigFile{}, false
	}
	if !st.Mode().IsRegular() {
		info.Diagnostics = append(info.Diagnostics, diag(rel, fmt.Errorf("not a regular file (%s)", st.Mode().Type())))
		return types.ConfigFile{}, false
	}

	f, err := os.Open(path) //nolint:gosec // G304: candidate name under home
	if err != nil {
		info.Diagnostics = append(info.Diagnostics, diag(rel, err))
		return types.ConfigFile{}, false
	}
	_ = f.Close()

	cf.Size = st.Size()
	cf.Permissions = st.Mode().Perm()
	return cf, true
}

func detectFramework(info *types.ShellConfigInfo) *types.FrameworkInfo {
	sourced := sourcedFrameworks(info.Home)

	for _, fw := range sourced {
		if dir, ok := installDir(info.Home, fw); ok {
			return frameworkInfo(info, fw, dir)
		}
		info.Diagnostics = append(info.Diagnostics, diag(PrimaryConfig,
			fmt.Errorf("sources %s but no install directory exists", fw.Name)))
	}

	for _, fw := range KnownFrameworks {
		if dir, ok := installDir(info.Home, fw); ok {
			return frameworkInfo(info, fw, dir)
		}
	}
	return nil
}

func frameworkInfo(info *types.ShellConfigInfo, fw Framework, dir string) *types.FrameworkInfo {
	size, err := fsutil.DirSize(dir)
	if err != nil {
		info.Diagnostics = append(info.Diagnostics, diag(dir, err))
	}
	return &types.FrameworkInfo{Name: fw.Name, InstallPath: dir, Size: size}
}

func installDir(home string, fw Framework) (string, bool) {
	for _, rel := range fw.Dirs {
		dir := filepath.Join(home, filepath.FromSlash(rel))
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir, true
		}
	}
	return "", false
}

// sourcedFrameworks returns the known frameworks named by source lines in
// the primary config, in order of first appearance.
func sourcedFrameworks(home string) []Framework {
	f, err := os.Open(filepath.Join(home, PrimaryConfig)) //nolint:gosec // G304: fixed name under home
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var found []Framework
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !isSourceLine(line) {
			continue
		}
		for _, fw := range KnownFrameworks {
			if seen[fw.Name] {
				continue
			}
			for _, m := range fw.Markers {
				if strings.Contains(line, m) {
					found = append(found, fw)
					seen[fw.Name] = true
					break
				}
			}
		}
	}
	return found
}

func isSourceLine(line string) bool {
	return strings.HasPrefix(line, "source ") || strings.HasPrefix(line, ". ")
}

func diag(rel string, err error) types.Diagnostic {
	return types.Diagnostic{
		Path: rel,
		Err:  fmt.Errorf("%w: %w", ErrDetectionPartial, err),
	}
}

func frameworkName(fw *types.FrameworkInfo) string {
	if fw == nil {
		return "none"
	}
	return fw.Name
}

// ShellVersion returns the output of `zsh --version`, or "unknown" when zsh
// is unavailable or does not answer within two seconds.
func ShellVersion(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "zsh", "--version").Output()
	if err != nil {
		logger.Debug("zsh version unavailable", "error", err)
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
