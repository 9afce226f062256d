// Package nifti reads and writes NIfTI-1 volumes (.nii and .nii.gz).
//
// A Volume carries its voxel data as float64 values in file order (first axis
// fastest) together with the header it was loaded from. The 348-byte header
// and any extension bytes are retained verbatim, so a volume saved with the
// header of another volume reproduces that header bit-for-bit; only the voxel
// payload is re-encoded. Values are exposed after scl_slope/scl_inter scaling
// and converted back to the header's stored datatype on save.
//
// Paired .hdr/.img files, NIfTI-2, and complex or RGB datatypes are rejected.
package nifti
