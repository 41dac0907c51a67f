package config

// ScenarioFileExt is the extension of world-script files consumed by cmd/kova.
const ScenarioFileExt = ".kova.yaml"

// IsTestMode indicates if the process is running under the test harness.
// Set once at startup; tests may flip it to get deterministic trace output.
var IsTestMode = false

// DebugChecks promotes defensive assertions and compilation failures to
// panics instead of best-effort degradation. Off in release builds.
var DebugChecks = false

// Call-site cache geometry. NCallCache must stay a power of two: slot
// selection masks the call-site token with NCallCache-1.
const (
	NCallCache      = 4096
	CallCacheProbes = 4
)

// MaxUnspecializedConflicts bounds how many guard entries a widened cache
// entry may carry before we give up and cache under the original concrete
// signature instead.
const MaxUnspecializedConflicts = 32

// MaxInterferenceWarm is the number of intersecting definitions above which
// the matcher stops trusting a cold interference memo and recomputes
// pairwise specificity.
const MaxInterferenceWarm = 256

// DefaultMaxVarargs seeds the per-method vararg specialization threshold
// when no explicit declaration and no sibling-method heuristic applies.
const DefaultMaxVarargs = 1

// UnsetMaxVarargs marks a method without an explicit max-varargs declaration.
const UnsetMaxVarargs = 255

// MaxArgsTrackLimit caps the per-family max_args heuristic counter so one
// pathological signature cannot make every future compilation signature huge.
const MaxArgsTrackLimit = 32

// Environment toggles for the trace sinks and the invalidation debug log.
const (
	EnvTraceDispatch      = "KOVA_TRACE_DISPATCH"
	EnvTraceSpecialize    = "KOVA_TRACE_SPECIALIZE"
	EnvDebugInvalidation  = "KOVA_DEBUG_INVALIDATION"
	EnvTraceDatabase      = "KOVA_TRACE_DB"
	EnvNoColor            = "NO_COLOR"
	EnvForceInterpretOnly = "KOVA_INTERPRET_ONLY"
)
