// Package ir provides the numeric intermediate representation shared by every
// difftrace component.
//
// This package contains the data model only: dtypes, shapes, tensors, program
// definitions and the element-wise kernels backends evaluate them with. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Tensors have value semantics; values are rounded to their dtype on construction
//   - Programs are immutable once NewProgram has type-checked them
//   - Canonical JSON (RFC 8785) is the only serialization used for hashing
//   - All JSON tags use snake_case
package ir
