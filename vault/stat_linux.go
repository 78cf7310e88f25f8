package vault

import (
	"io/fs"
	"syscall"
	"time"
)

var syscallNotDir = syscall.ENOTDIR

// birthTime uses the inode change time, the closest Linux exposes through
// os.Stat.
func birthTime(fi fs.FileInfo) time.Time {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		ct := time.Unix(st.Ctim.Unix())
		if ct.Before(fi.ModTime()) {
			return ct
		}
	}
	return fi.ModTime()
}
