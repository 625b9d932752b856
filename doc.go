// Package cuvec implements a random variable for Monte-Carlo simulation whose
// realizations live in device memory: one float32 per path, operated on by a
// fixed set of elementwise kernels. Deterministic variables are a single
// float64 held on the host and are promoted to a device vector only when an
// operation mixes them with stochastic operands.
//
// Values are immutable and carry a filtration time that propagates as the
// maximum over an operation's operands. Device buffers are owned by a
// per-session memory pool (package device) and are recycled by element count
// once their value becomes unreachable, so steady-state simulation loops run
// without device allocations.
//
// The stochastic.Var interface this package implements dispatches mixed-type
// operations by priority; cuvec values rank above the host implementation in
// package hostvec, so mixing the two keeps results device-resident.
package cuvec
