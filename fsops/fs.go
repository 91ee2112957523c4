package fsops

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/chazu/taskd/vm"
)

// ---------------------------------------------------------------------------
// Creating and removing
// ---------------------------------------------------------------------------

// Create makes a directory when kind is "dir" and an empty file otherwise.
// It fails if path already exists.
func (p *Provider) Create(path, kind string) bool {
	if kind == "dir" {
		return ok("mkdir", os.Mkdir(path, 0o755))
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return ok("create", err)
	}
	return ok("create", f.Close())
}

// Delete removes path, recursing into directories. Symlinks are removed,
// not followed. A missing path is a failure.
func (p *Provider) Delete(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return ok("delete", err)
	}
	if info.IsDir() {
		return ok("delete", os.RemoveAll(path))
	}
	return ok("delete", os.Remove(path))
}

// ---------------------------------------------------------------------------
// Copying and moving
// ---------------------------------------------------------------------------

// Copy duplicates src at dst. Directories are copied recursively and file
// modes are preserved.
func (p *Provider) Copy(src, dst string) bool {
	return ok("copy", copyPath(src, dst))
}

func copyPath(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyDir(src, dst, info.Mode().Perm())
	}
	return copyFile(src, dst, info.Mode().Perm())
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyDir(src, dst string, mode fs.FileMode) error {
	if err := os.Mkdir(dst, mode); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := copyPath(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Move renames src to dst, falling back to copy and delete when the two
// live on different devices.
func (p *Provider) Move(src, dst string) bool {
	err := os.Rename(src, dst)
	if err == nil {
		return true
	}
	if !errors.Is(err, unix.EXDEV) {
		return ok("move", err)
	}
	if err := copyPath(src, dst); err != nil {
		return ok("move", err)
	}
	return p.Delete(src)
}

// ---------------------------------------------------------------------------
// Reading and writing
// ---------------------------------------------------------------------------

// Write writes content to path. mode is an fopen-style string: "w", "a",
// "r+", "w+" or "a+", optionally with "b". Any other mode fails.
func (p *Provider) Write(path, content, mode string) bool {
	flags, valid := openFlags(mode)
	if !valid {
		log.Debugf("write %s: unsupported mode %q", path, mode)
		return false
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return ok("write", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return ok("write", err)
	}
	return ok("write", f.Close())
}

// openFlags translates an fopen mode into os.OpenFile flags.
func openFlags(mode string) (int, bool) {
	if mode == "" {
		return 0, false
	}
	plus := false
	for _, c := range mode[1:] {
		switch c {
		case '+':
			plus = true
		case 'b':
		default:
			return 0, false
		}
	}
	var flags int
	switch mode[0] {
	case 'r':
		if !plus {
			// read-only streams cannot be written
			return 0, false
		}
		flags = os.O_RDWR
	case 'w':
		flags = os.O_CREATE | os.O_TRUNC | os.O_WRONLY
		if plus {
			flags = os.O_CREATE | os.O_TRUNC | os.O_RDWR
		}
		return flags, true
	case 'a':
		flags = os.O_CREATE | os.O_APPEND | os.O_WRONLY
		if plus {
			flags = os.O_CREATE | os.O_APPEND | os.O_RDWR
		}
	default:
		return 0, false
	}
	if excl {
		return 0, false
	}
	return flags, true
}

// Read returns the full contents of path.
func (p *Provider) Read(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ok("read", err)
	}
	return data, true
}

// List returns the names in dir, sorted and joined by newlines. An empty
// directory yields "".
func (p *Provider) List(dir string) (string, bool) {
	names, err := listNames(dir)
	if err != nil {
		return "", ok("list", err)
	}
	return strings.Join(names, "\n"), true
}

func listNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// ---------------------------------------------------------------------------
// Tree queries
// ---------------------------------------------------------------------------

// RandomWalk starts at root and up to depth times steps into a uniformly
// chosen subdirectory. It stops early at a directory with no
// subdirectories, or one it cannot read. A negative depth fails.
func (p *Provider) RandomWalk(root string, depth int64) (string, bool) {
	if depth < 0 {
		return "", false
	}
	cur := root
	for hop := int64(0); hop < depth; hop++ {
		entries, err := os.ReadDir(cur)
		if err != nil {
			log.Debugf("random walk: %v", err)
			break
		}
		var dirs []string
		for _, e := range entries {
			// DirEntry types come from lstat, so symlinks to directories
			// are not followed.
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			}
		}
		if len(dirs) == 0 {
			break
		}
		cur = vm.JoinPath(cur, dirs[p.intn(len(dirs))])
	}
	return cur, true
}

// DirContains reports whether every entry under a exists, by name, at the
// same relative position under b. Directories in a must be directories in
// b; other entries only need to exist.
func (p *Provider) DirContains(a, b string) bool {
	return contains(a, b)
}

func contains(a, b string) bool {
	ia, err := os.Lstat(a)
	if err != nil {
		return false
	}
	ib, err := os.Lstat(b)
	if err != nil {
		return false
	}
	if !ia.IsDir() {
		return true
	}
	if !ib.IsDir() {
		return false
	}
	names, err := listNames(a)
	if err != nil {
		return false
	}
	for _, name := range names {
		if !contains(filepath.Join(a, name), filepath.Join(b, name)) {
			return false
		}
	}
	return true
}

// ok converts err into a primitive result, logging failures.
func ok(op string, err error) bool {
	if err != nil {
		log.Debugf("%s: %v", op, err)
		return false
	}
	return true
}
