//go:build unix

package process

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Exec replaces the current process image with binary via execve(2).
func Exec(binary string, argv []string, env []string) error {
	if err := unix.Exec(binary, argv, env); err != nil {
		return fmt.Errorf("exec %s: %w", binary, err)
	}
	return nil
}
