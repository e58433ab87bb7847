/*
 * Copyright 2022 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mirgen

import (
	"fmt"
	"io"

	"github.com/cloudwego/mirgen/internal/opts"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

// WithOptLevel selects the optimization pipeline.
//
// Level 0 only builds the CFG and allocates registers, level 1 adds
// coalescing, live-range splitting, the combiner and dead code elimination,
// level 2 adds the SSA optimizations (GVN, constant propagation, dead store
// elimination, loop invariant code motion and register pressure relief),
// and level 3 runs the SSA optimizations twice.
//
// This value can also be configured with the `MIRGEN_OPT_LEVEL` environment
// variable.
//
// The default value of this option is "2".
func WithOptLevel(level int) Option {
	if level < 0 || level > opts.MaxOptLevel {
		panic(fmt.Sprintf("mirgen: invalid optimization level: %d", level))
	} else {
		return func(o *opts.Options) { o.OptLevel = level }
	}
}

// WithMaxStackSlots limits the number of spill slots of a single function.
// Running out of stack slots is the only way register allocation can fail.
//
// The default value of this option is "65536".
func WithMaxStackSlots(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("mirgen: invalid stack slot limit: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxStackSlots = n }
	}
}

// WithDebugLevel controls how much is written to the trace writer: level 1
// dumps the function after every pass, level 2 also dumps the loop tree and
// the allocation tables.
func WithDebugLevel(level int) Option {
	if level < 0 {
		panic(fmt.Sprintf("mirgen: invalid debug level: %d", level))
	} else {
		return func(o *opts.Options) { o.DebugLevel = level }
	}
}

// WithTrace sets the writer that receives pass dumps.
func WithTrace(w io.Writer) Option {
	return func(o *opts.Options) { o.Trace = w }
}

// WithLiveRangeSVG sets the writer that receives an SVG chart of the live
// ranges of every compiled function.
func WithLiveRangeSVG(w io.Writer) Option {
	return func(o *opts.Options) { o.LiveRangeSVG = w }
}

// WithInvariantChecks enables the CFG and SSA verifiers between passes.
//
// This value can also be configured with the `MIRGEN_CHECK` environment
// variable.
func WithInvariantChecks(v bool) Option {
	return func(o *opts.Options) { o.InvariantChecks = v }
}

// WithWorkers sets how many functions GenerateAll compiles concurrently.
//
// The default value of this option is "4".
func WithWorkers(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("mirgen: invalid worker count: %d", n))
	} else {
		return func(o *opts.Options) { o.Workers = n }
	}
}

// WithLiveRangeSplitting enables or disables live-range splitting in the
// register allocator. Splitting is never done at level 0.
func WithLiveRangeSplitting(v bool) Option {
	return func(o *opts.Options) { o.NoSplitting = !v }
}

// SetOptLevel sets the default optimization level for all generators
// created from now on.
//
// Returns the old opts.OptLevel value.
func SetOptLevel(level int) int {
	level, opts.OptLevel = opts.OptLevel, level
	return level
}
