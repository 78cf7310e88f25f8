//go:build !linux && !darwin

package vault

import (
	"errors"
	"io/fs"
	"time"
)

var syscallNotDir = errors.New("not a directory")

func birthTime(fi fs.FileInfo) time.Time { return fi.ModTime() }
