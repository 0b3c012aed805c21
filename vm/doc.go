// Package vm implements the Converge virtual machine.
//
// This package contains:
//   - Continuation frames with failure, generator and exception subframes
//   - Shape-based object layout and slot access
//   - Versioned class fields with weakly held dependents
//   - Goal-directed evaluation: failure, fail-up, generators and Pump
//   - The bytecode interpreter and its inline caches
//   - Modules, the builtin classes and the Sys and Exceptions modules
//   - DecodeArgs for native functions
package vm
