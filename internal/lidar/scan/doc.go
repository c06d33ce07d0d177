// Package scan owns point-cloud primitives for the localizer: the Point and
// Cloud types, rigid transformation of point sets, voxel downsampling, and
// the per-scan Preprocessor (range band + voxel grid).
//
// Everything here is stateless per scan; point order carries no meaning.
package scan
