//go:build !linux && !darwin && !freebsd

package filesystem

import (
	"github.com/manualbox/manualbox/pkg/errors"
)

func hostStatfs(path string) (StatfsInfo, error) {
	return StatfsInfo{}, errors.NewError(errors.ErrCodeInternalError, "statfs passthrough is not supported on this platform").
		WithComponent("filesystem").
		WithContext("path", path)
}
