//go:build !cuda

package cudriver

// NewCUDA reports that the CUDA backend is unavailable in this build. Build
// with -tags cuda on a machine with the CUDA toolkit to enable it; the
// simulated driver (NewSim) is always available.
func NewCUDA() (Driver, error) {
	return nil, ErrNotAvailable
}
