package vmm

import "errors"

var (
	// ErrSegfault is returned for accesses the process is not allowed to
	// make. It is fatal to the faulting process only.
	ErrSegfault = errors.New("segmentation fault")

	// ErrInvalidMapping is returned by Mmap for bad addresses or files.
	ErrInvalidMapping = errors.New("invalid mapping")

	// ErrExited is returned by operations on an address space after Exit.
	ErrExited = errors.New("address space exited")
)
