package config

// Pool defaults. A zero maximum leaves the node pool unbounded.
const (
	DefaultPoolNodesPerAlloc = 128
	DefaultPoolMaxNodes      = 0
)

// Benchmark defaults reproduce the classic registration workload: page-aligned
// bases below 2^51 with a fixed 16 KiB width.
const (
	DefaultBenchCount = 2048
	DefaultBenchWidth = 16384
	DefaultBenchSeed  = 1
	DefaultBenchMask  = 0x0007fffffffff000
)

// Stress defaults.
const (
	DefaultStressOps           = 10000
	DefaultStressReaders       = 4
	DefaultStressSeed          = 1
	DefaultStressKeySpace      = 1 << 16
	DefaultStressMaxWidth      = 1 << 10
	DefaultStressValidateEvery = 1
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Observability defaults.
const (
	DefaultServiceName = "ivtree"
	DefaultSampleRatio = 0.0
)
