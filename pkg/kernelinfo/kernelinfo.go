// Package kernelinfo reports the running kernel release for inclusion in
// connect-time diagnostics. The segment's own compatibility gate is its
// producer-assigned version word (see pkg/wire.SharedHeader.Version), not
// the host kernel, but the kernel release is still worth recording in a
// support bundle: the producer's heap layout assumptions (pointer width,
// alignment) are ultimately a function of the kernel/arch combination it
// was built for.
package kernelinfo

import "github.com/docker/docker/pkg/parsers/kernel"

// Release returns the running kernel's release string (e.g. "6.1.0-amd64"),
// or an error on platforms kernel.GetKernelVersion does not support.
func Release() (string, error) {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		return "", err
	}
	return v.String(), nil
}
