//go:build !linux && !windows && !(darwin && cgo)

package native

import "tellmewhen/internal/logging"

func newNativeEngine(logger *logging.Logger) (Engine, error) {
	return newPortableEngine(logger), nil
}
