package workspace

import "os"

// FileSystem is the subset of file system operations the Manager needs.
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	Mkdir(path string, perm os.FileMode) error
	WriteFile(name string, data []byte, perm os.FileMode) error
	Rename(oldpath, newpath string) error
	Chmod(name string, mode os.FileMode) error
	Chown(name string, uid, gid int) error
	Remove(name string) error
	RemoveAll(path string) error
	ReadDir(name string) ([]os.DirEntry, error)
}

// RealFileSystem implements FileSystem with the os package
type RealFileSystem struct{}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

func (RealFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (RealFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (RealFileSystem) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(name, mode)
}

func (RealFileSystem) Chown(name string, uid, gid int) error {
	return os.Chown(name, uid, gid)
}

func (RealFileSystem) Remove(name string) error {
	return os.Remove(name)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (RealFileSystem) ReadDir(name string) ([]os.DirEntry, error) {
	return os.ReadDir(name)
}
