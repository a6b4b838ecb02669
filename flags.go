package v6fs

import "os"

// POSIX mode bits, as reported by stat(2).
const (
	S_IXOTH = 0o000001
	S_IWOTH = 0o000002
	S_IROTH = 0o000004
	S_IXGRP = 0o000010
	S_IWGRP = 0o000020
	S_IRGRP = 0o000040
	S_IXUSR = 0o000100
	S_IWUSR = 0o000200
	S_IRUSR = 0o000400
	S_ISVTX = 0o001000
	S_ISGID = 0o002000
	S_ISUID = 0o004000
	S_IFIFO = 0o010000
	S_IFCHR = 0o020000
	S_IFDIR = 0o040000
	S_IFBLK = 0o060000
	S_IFREG = 0o100000
	S_IFMT  = 0o170000
)

const S_IRWXO = S_IXOTH | S_IWOTH | S_IROTH
const S_IRWXG = S_IXGRP | S_IWGRP | S_IRGRP
const S_IRWXU = S_IXUSR | S_IWUSR | S_IRUSR

// FileModeFromPOSIX converts a POSIX `st_mode` value into the representation
// used by the `os` package.
func FileModeFromPOSIX(mode uint32) os.FileMode {
	fileMode := os.FileMode(mode & (S_IRWXU | S_IRWXG | S_IRWXO))

	switch mode & S_IFMT {
	case S_IFDIR:
		fileMode |= os.ModeDir
	case S_IFCHR:
		fileMode |= os.ModeDevice | os.ModeCharDevice
	case S_IFBLK:
		fileMode |= os.ModeDevice
	case S_IFIFO:
		fileMode |= os.ModeNamedPipe
	}

	if mode&S_ISUID != 0 {
		fileMode |= os.ModeSetuid
	}
	if mode&S_ISGID != 0 {
		fileMode |= os.ModeSetgid
	}
	if mode&S_ISVTX != 0 {
		fileMode |= os.ModeSticky
	}
	return fileMode
}
