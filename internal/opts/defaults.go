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

package opts

import (
	"os"
	"strconv"
)

const (
	_DefaultOptLevel      = 2       // full SSA pipeline
	_DefaultMaxStackSlots = 1 << 16 // 512 KiB of spill area
	_DefaultDebugLevel    = 0       // no tracing
	_DefaultWorkers       = 4       // functions compiled concurrently
)

const (
	MaxOptLevel = 3
)

var (
	OptLevel        = parseOrDefault("MIRGEN_OPT_LEVEL", _DefaultOptLevel, 0, MaxOptLevel)
	MaxStackSlots   = parseOrDefault("MIRGEN_MAX_STACK_SLOTS", _DefaultMaxStackSlots, 1, 1<<30)
	DebugLevel      = parseOrDefault("MIRGEN_DEBUG_LEVEL", _DefaultDebugLevel, 0, 3)
	InvariantChecks = parseOrDefault("MIRGEN_CHECK", 0, 0, 1) != 0
	Workers         = parseOrDefault("MIRGEN_WORKERS", _DefaultWorkers, 1, 1024)
)

func parseOrDefault(key string, def int, min int, max int) int {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
		panic("mirgen: invalid value for " + key)
	} else if ret := int(val); ret < min {
		panic("mirgen: value too small for " + key)
	} else if ret > max {
		panic("mirgen: value too large for " + key)
	} else {
		return ret
	}
}
