package capture

import (
	"errors"

	"github.com/teslashibe/voiceops/pkg/audioio"
)

// ErrClosed is returned when operating on a closed pipeline.
var ErrClosed = errors.New("capture: pipeline closed")

// IsDeviceError reports whether err came from opening the input device.
func IsDeviceError(err error) bool {
	return errors.Is(err, audioio.ErrDeviceUnavailable)
}
