package device

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/finsim/cuvec/cudriver"
)

// Environment variables consulted by Default and New.
const (
	// EnvDevice selects the default driver name ("cuda" or "sim").
	EnvDevice = "CUVEC_DEVICE"
	// EnvKernelModule points at the compiled kernel module (PTX/cubin) the
	// session loads. The module's build step is external to this library.
	EnvKernelModule = "CUVEC_KERNEL_MODULE"
)

// Session is the process-wide device state: an initialized context, the
// loaded kernel module, the handles of every named kernel, the serialized
// executor, and the buffer pool. It is immutable after New returns and is
// shared by reference between all vector values built on it.
type Session struct {
	name    string
	exec    *Executor
	pool    *MemoryPool
	kernels map[string]cudriver.Function
}

type config struct {
	deviceNum  int
	modulePath string
	driver     cudriver.Driver
}

// Option configures New.
type Option func(*config)

// WithDeviceNum selects the device ordinal (default 0).
func WithDeviceNum(n int) Option { return func(c *config) { c.deviceNum = n } }

// WithModulePath overrides the kernel module path (default: EnvKernelModule).
func WithModulePath(path string) Option { return func(c *config) { c.modulePath = path } }

// WithDriver supplies the driver instance directly instead of constructing
// one from the session name. Used by tests to inject constrained devices.
func WithDriver(d cudriver.Driver) Option { return func(c *config) { c.driver = d } }

var (
	sessionsMu sync.Mutex
	sessions   = make(map[string]*sessionResult)
)

type sessionResult struct {
	session *Session
	err     error
}

// Get returns the cached session for the given driver name ("cuda" or
// "sim"), initializing it on first use. Initialization runs under a single
// lock, exactly once per name -- including when it fails: the error is cached
// and every later Get fails fast rather than re-attempting a partial init.
func Get(name string) (*Session, error) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()
	if r, ok := sessions[name]; ok {
		return r.session, r.err
	}
	s, err := New(name)
	sessions[name] = &sessionResult{session: s, err: err}
	return s, err
}

// Default returns the session named by the CUVEC_DEVICE environment
// variable. Unset, it tries "cuda" and falls back to the simulated device
// when the binary was built without CUDA support.
func Default() (*Session, error) {
	if name := os.Getenv(EnvDevice); name != "" {
		return Get(name)
	}
	s, err := Get("cuda")
	if err != nil && errors.Is(err, cudriver.ErrNotAvailable) {
		klog.V(1).Info("cuda driver not available, using the simulated device")
		return Get("sim")
	}
	return s, err
}

// New builds an uncached session: it initializes the device context, loads
// the kernel module and resolves every kernel in KernelNames, all on the
// executor's worker thread. Any failure -- driver init, module load, a
// missing kernel -- aborts initialization; a partially initialized session is
// never returned.
func New(name string, opts ...Option) (*Session, error) {
	cfg := &config{modulePath: os.Getenv(EnvKernelModule)}
	for _, opt := range opts {
		opt(cfg)
	}

	drv := cfg.driver
	if drv == nil {
		var err error
		drv, err = newDriver(name)
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		name:    name,
		exec:    NewExecutor(drv),
		kernels: make(map[string]cudriver.Function, len(KernelNames)),
	}
	err := s.exec.Run(func(d cudriver.Driver) error {
		if err := d.Init(cfg.deviceNum); err != nil {
			return errors.WithMessage(err, "initializing device")
		}
		if err := d.LoadModule(cfg.modulePath); err != nil {
			return errors.WithMessage(err, "loading kernel module")
		}
		for _, kernelName := range KernelNames {
			fn, err := d.GetFunction(kernelName)
			if err != nil {
				return errors.WithMessagef(err, "resolving kernel %q", kernelName)
			}
			s.kernels[kernelName] = fn
		}
		return nil
	})
	if err != nil {
		s.exec.Close()
		return nil, errors.WithMessagef(err, "device session %q", name)
	}
	s.pool = NewMemoryPool(s.exec)
	klog.V(1).Infof("device session %q ready, %d kernels resolved", name, len(s.kernels))
	return s, nil
}

func newDriver(name string) (cudriver.Driver, error) {
	switch name {
	case "cuda":
		return cudriver.NewCUDA()
	case "sim":
		return cudriver.NewSim(0), nil
	default:
		return nil, errors.Errorf("unknown device driver %q (want \"cuda\" or \"sim\")", name)
	}
}

// Name returns the driver name the session was built from.
func (s *Session) Name() string { return s.name }

// Pool returns the session's buffer pool.
func (s *Session) Pool() *MemoryPool { return s.pool }

// Run submits op to the session's executor and blocks for its result.
func (s *Session) Run(op Op) error { return s.exec.Run(op) }

// Kernel returns the resolved handle of a named kernel.
func (s *Session) Kernel(name string) (cudriver.Function, error) {
	fn, ok := s.kernels[name]
	if !ok {
		return cudriver.Function{}, errors.Errorf("no kernel named %q in session %q", name, s.name)
	}
	return fn, nil
}

// Launch runs a resolved kernel over a one-dimensional grid through the
// executor, blocking until it completed.
func (s *Session) Launch(fn cudriver.Function, gridX, blockX, sharedBytes int, params []cudriver.KernelParam) error {
	return s.exec.Run(func(d cudriver.Driver) error {
		return d.LaunchKernel(fn, gridX, blockX, sharedBytes, params)
	})
}

// NewBuffer acquires a buffer for values from the pool and copies values
// into it. The caller is responsible for registering the buffer with the
// pool once it is wrapped by its owning vector value.
func (s *Session) NewBuffer(values []float32) (cudriver.DevicePtr, error) {
	ptr, err := s.pool.Acquire(len(values))
	if err != nil {
		return 0, err
	}
	err = s.exec.Run(func(d cudriver.Driver) error {
		return d.MemcpyHtoD(ptr, cudriver.Float32Bytes(values))
	})
	if err != nil {
		// No owner yet, so nothing would ever reclaim the buffer.
		s.pool.Release(ptr, len(values))
		return 0, errors.WithMessage(err, "copying host values to device")
	}
	return ptr, nil
}

// ReadBuffer copies n elements of a device buffer back to the host.
func (s *Session) ReadBuffer(ptr cudriver.DevicePtr, n int) ([]float32, error) {
	out := make([]float32, n)
	err := s.exec.Run(func(d cudriver.Driver) error {
		return d.MemcpyDtoH(cudriver.Float32Bytes(out), ptr)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "copying device values to host")
	}
	return out, nil
}

// Close reclaims all pooled buffers and stops the executor. There is no
// teardown contract for the device context itself; sessions normally live
// until process exit, and Close exists for deliberate cleanup in tests and
// tools.
func (s *Session) Close() error {
	err := s.pool.ReclaimAll()
	s.exec.Close()
	return err
}
