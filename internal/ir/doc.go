// Package ir provides the value types shared by every relfill package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Payloads are sealed IRValue trees (null, string, int, bool, array, object,
//     or an *Entity handle used as a reference)
//   - NO float types anywhere - scalar casting happens before a payload arrives
//   - Key is the int64 identity of a stored row; NoKey means "not persisted"
package ir
