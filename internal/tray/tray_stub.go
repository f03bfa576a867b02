//go:build !tray

package tray

import "context"

const Available = false

func Run(_ context.Context, _ Options) error {
	return ErrUnavailable
}
