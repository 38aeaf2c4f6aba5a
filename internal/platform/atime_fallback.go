//go:build !windows && !linux && !darwin

package platform

import (
	"os"
	"time"
)

func fileAtime(info os.FileInfo) time.Time {
	return info.ModTime()
}
