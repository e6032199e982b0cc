package resctrl

import (
	"strings"
	"syscall"
)

// fakeFs is an in-memory FsProvider used by tests, standing in for the
// real /sys/fs/resctrl tree.
type fakeFs struct {
	dirs       map[string]bool
	files      map[string]string
	mounted    bool
	failCreate map[string]error
	failWrite  map[string]error
}

func newFakeFs() *fakeFs {
	return &fakeFs{
		dirs:       map[string]bool{"/sys/fs/resctrl": true, "/sys/fs/resctrl/mon_groups": true, "/sys/fs/resctrl/info": true},
		files:      map[string]string{},
		failCreate: map[string]error{},
		failWrite:  map[string]error{},
	}
}

func (f *fakeFs) Exists(path string) bool {
	return f.dirs[path] || f.files[path] != ""
}

func (f *fakeFs) CreateDir(path string) error {
	if err, ok := f.failCreate[path]; ok {
		delete(f.failCreate, path)
		return err
	}
	if f.dirs[path] {
		return syscall.EEXIST
	}
	f.dirs[path] = true
	f.files[path+"/tasks"] = ""
	return nil
}

func (f *fakeFs) RemoveDir(path string) error {
	if !f.dirs[path] {
		return syscall.ENOENT
	}
	delete(f.dirs, path)
	delete(f.files, path+"/tasks")
	return nil
}

func (f *fakeFs) WriteString(path, data string) error {
	if err, ok := f.failWrite[path]; ok {
		return err
	}
	dir := path[:strings.LastIndex(path, "/")]
	if !f.dirs[dir] {
		return syscall.ENOENT
	}
	f.files[path] += data
	return nil
}

func (f *fakeFs) ReadToString(path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", syscall.ENOENT
	}
	return content, nil
}

func (f *fakeFs) CheckCanOpenForWrite(path string) error {
	if !f.Exists(path) {
		return syscall.ENOENT
	}
	return nil
}

func (f *fakeFs) MountResctrl(target string) error {
	f.mounted = true
	return nil
}

func (f *fakeFs) IsMounted(target string) bool {
	return f.mounted
}

func (f *fakeFs) ListDir(path string) ([]string, error) {
	if !f.dirs[path] {
		return nil, syscall.ENOENT
	}
	prefix := path + "/"
	seen := map[string]bool{}
	var names []string
	for d := range f.dirs {
		if strings.HasPrefix(d, prefix) {
			rest := strings.TrimPrefix(d, prefix)
			if !strings.Contains(rest, "/") && !seen[rest] {
				seen[rest] = true
				names = append(names, rest)
			}
		}
	}
	return names, nil
}
