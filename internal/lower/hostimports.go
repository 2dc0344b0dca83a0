package lower

import "github.com/fieldforge/turtlec/internal/mtype"

// Host function names: every domain operation whose real implementation lives
// outside the compiled module — agent-set iteration, PRNG, and the actual
// diffusion/geometry math the host runtime owns.
//
// Every numeric argument/result crossing this boundary is passed as F64 and
// every boolean as I8 so lowering never needs a machine-level int/float
// conversion op (the LIR instruction set has none); truncation/rounding of
// counts such as create-turtles' population size is the host's concern.
const (
	hostDiffuse8           = "diffuse_8_single_variable_buffer"
	hostScaleColor         = "scale_color"
	hostPatchAt            = "patch_at"
	hostPatchAhead         = "patch_ahead"
	hostPatchRightAndAhead = "patch_right_and_ahead"
	hostCanMove            = "can_move"
	hostTurtleForward      = "turtle_forward"
	hostTurtleRotate       = "turtle_rotate"
	hostDistancexy         = "distancexy"
	hostEuclideanDistance  = "euclidean_distance_no_wrap"
	hostMaxPxcor           = "max_pxcor"
	hostMaxPycor           = "max_pycor"
	hostRandomInt          = "random_int"
	hostGetTick            = "get_tick"
	hostAdvanceTick        = "advance_tick"
	hostResetTicks         = "reset_ticks"
	hostClearAll           = "clear_all"
	hostAsk                = "ask"
	hostCreateTurtles      = "create_turtles"
	hostOneOf              = "one_of"
	hostListNew            = "list_new"
	hostListPush           = "list_push"
	hostOf                 = "of"
	hostSetDefaultShape    = "set_default_shape"
	hostGetPatchVar        = "get_patch_var"
	hostSetPatchVar        = "set_patch_var"
	hostGetTurtleVar       = "get_turtle_var"
	hostSetTurtleVar       = "set_turtle_var"
	hostTurtleIdToIndex    = "turtle_id_to_index"
	hostOffsetXByHeading   = "offset_x_distance_by_heading"
	hostOffsetYByHeading   = "offset_y_distance_by_heading"
)

type importSpec struct {
	params  []mtype.Machine
	results []mtype.Machine
}

var hostImportSpecs = map[string]importSpec{
	hostDiffuse8:           {params: []mtype.Machine{mtype.Ptr, mtype.Ptr, mtype.F64}},
	hostScaleColor:         {params: []mtype.Machine{mtype.F64, mtype.F64, mtype.F64, mtype.F64}, results: []mtype.Machine{mtype.F64}},
	hostPatchAt:            {params: []mtype.Machine{mtype.Ptr, mtype.F64, mtype.F64}, results: []mtype.Machine{mtype.I32}},
	hostPatchAhead:         {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.F64}, results: []mtype.Machine{mtype.I32}},
	hostPatchRightAndAhead: {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.F64}, results: []mtype.Machine{mtype.I32}},
	hostCanMove:            {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.F64}, results: []mtype.Machine{mtype.I8}},
	hostTurtleForward:      {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.F64}},
	hostTurtleRotate:       {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.F64}},
	hostDistancexy:         {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.F64, mtype.F64}, results: []mtype.Machine{mtype.F64}},
	hostEuclideanDistance:  {params: []mtype.Machine{mtype.F64, mtype.F64, mtype.F64, mtype.F64}, results: []mtype.Machine{mtype.F64}},
	hostMaxPxcor:           {params: []mtype.Machine{mtype.Ptr}, results: []mtype.Machine{mtype.I32}},
	hostMaxPycor:           {params: []mtype.Machine{mtype.Ptr}, results: []mtype.Machine{mtype.I32}},
	hostRandomInt:          {params: []mtype.Machine{mtype.Ptr, mtype.F64}, results: []mtype.Machine{mtype.F64}},
	hostGetTick:            {params: []mtype.Machine{mtype.Ptr}, results: []mtype.Machine{mtype.F64}},
	hostAdvanceTick:        {params: []mtype.Machine{mtype.Ptr}},
	hostResetTicks:         {params: []mtype.Machine{mtype.Ptr}},
	hostClearAll:           {params: []mtype.Machine{mtype.Ptr}},
	hostAsk:                {params: []mtype.Machine{mtype.Ptr, mtype.Ptr, mtype.FnPtr}},
	hostCreateTurtles:      {params: []mtype.Machine{mtype.Ptr, mtype.F64, mtype.Ptr, mtype.FnPtr}},
	hostOneOf:              {params: []mtype.Machine{mtype.Ptr, mtype.Ptr}, results: []mtype.Machine{mtype.I64}},
	hostListNew:            {results: []mtype.Machine{mtype.Ptr}},
	hostListPush:           {params: []mtype.Machine{mtype.Ptr, mtype.F64}},
	hostOf:                 {params: []mtype.Machine{mtype.Ptr, mtype.Ptr, mtype.FnPtr}, results: []mtype.Machine{mtype.I64}},
	hostSetDefaultShape:    {params: []mtype.Machine{mtype.Ptr, mtype.Ptr, mtype.Ptr}},

	// Agent variable access is dispatched to the host by field name (a
	// pointer into the module's interned string pool) rather than by a
	// compiler-computed buffer/offset pair: the host runtime owns the
	// authoritative schema interpretation.
	hostGetPatchVar:     {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.Ptr}, results: []mtype.Machine{mtype.F64}},
	hostSetPatchVar:     {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.Ptr, mtype.F64}},
	hostGetTurtleVar:    {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.Ptr}, results: []mtype.Machine{mtype.F64}},
	hostSetTurtleVar:    {params: []mtype.Machine{mtype.Ptr, mtype.I32, mtype.Ptr, mtype.F64}},
	hostTurtleIdToIndex:  {params: []mtype.Machine{mtype.I32}, results: []mtype.Machine{mtype.I32}},
	hostOffsetXByHeading: {params: []mtype.Machine{mtype.F64, mtype.F64}, results: []mtype.Machine{mtype.F64}},
	hostOffsetYByHeading: {params: []mtype.Machine{mtype.F64, mtype.F64}, results: []mtype.Machine{mtype.F64}},
}

// hostImportNames is the fixed, deterministic emission order of the import
// section (map iteration order is not stable).
var hostImportNames = []string{
	hostDiffuse8, hostScaleColor, hostPatchAt, hostPatchAhead,
	hostPatchRightAndAhead, hostCanMove, hostTurtleForward, hostTurtleRotate,
	hostDistancexy, hostEuclideanDistance, hostMaxPxcor, hostMaxPycor,
	hostRandomInt, hostGetTick, hostAdvanceTick, hostResetTicks, hostClearAll,
	hostAsk, hostCreateTurtles, hostOneOf, hostListNew, hostListPush,
	hostOf, hostSetDefaultShape,
	hostGetPatchVar, hostSetPatchVar, hostGetTurtleVar, hostSetTurtleVar,
	hostTurtleIdToIndex, hostOffsetXByHeading, hostOffsetYByHeading,
}
