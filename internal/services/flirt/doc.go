// Package flirt mediates access to the FSL FLIRT binary used for affine
// registration.
//
// Estimate registers a moving image onto a reference and writes the 4x4
// transform; Apply resamples a moving image into reference space with an
// existing transform. Both verify that FLIRT produced the files it was asked
// for. ReadMatrix parses the ASCII matrix files FLIRT writes.
//
// Prefer this package over ad-hoc exec.Command usage so the output type and
// error reporting stay consistent.
package flirt
