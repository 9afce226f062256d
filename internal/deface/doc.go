// Package deface runs the defacing pipeline.
//
// A run registers the head template onto the subject (step A), warps the
// facemask into subject space with the estimated transform (step B), multiplies
// the subject by the warped mask and saves the result with the subject's own
// header. The warped mask stays available on the returned Run so companion
// images on the same voxel grid can be masked with ApplyTo without
// re-registering.
//
// Each run works in its own temporary directory named after a run UUID, so
// concurrent invocations never share artifacts, and holds an advisory lock on
// its output path while writing.
package deface
