package device

// Names of the entry points every kernel module must export. The set is
// fixed: sessions resolve all of them at initialization and fail fast when
// one is missing.
const (
	KernelCapByScalar      = "capByScalar"
	KernelFloorByScalar    = "floorByScalar"
	KernelAddScalar        = "addScalar"
	KernelSubScalar        = "subScalar"
	KernelBusScalar        = "busScalar" // operand-reversed subScalar
	KernelMultScalar       = "multScalar"
	KernelDivScalar        = "divScalar"
	KernelVidScalar        = "vidScalar" // operand-reversed divScalar
	KernelPow              = "cuPow"
	KernelSqrt             = "cuSqrt"
	KernelExp              = "cuExp"
	KernelLog              = "cuLog"
	KernelInvert           = "invert"
	KernelAbs              = "cuAbs"
	KernelCap              = "cap"
	KernelFloor            = "cuFloor"
	KernelAdd              = "add"
	KernelSub              = "sub"
	KernelMult             = "mult"
	KernelDiv              = "cuDiv"
	KernelAccrue           = "accrue"
	KernelDiscount         = "discount"
	KernelAddProduct       = "addProduct"
	KernelAddProductScalar = "addProduct_vs"
	KernelReducePartial    = "reducePartial"
)

// KernelNames lists every kernel a session resolves at initialization.
var KernelNames = []string{
	KernelCapByScalar,
	KernelFloorByScalar,
	KernelAddScalar,
	KernelSubScalar,
	KernelBusScalar,
	KernelMultScalar,
	KernelDivScalar,
	KernelVidScalar,
	KernelPow,
	KernelSqrt,
	KernelExp,
	KernelLog,
	KernelInvert,
	KernelAbs,
	KernelCap,
	KernelFloor,
	KernelAdd,
	KernelSub,
	KernelMult,
	KernelDiv,
	KernelAccrue,
	KernelDiscount,
	KernelAddProduct,
	KernelAddProductScalar,
	KernelReducePartial,
}
