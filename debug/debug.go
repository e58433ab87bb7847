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

package debug

import (
	"sync/atomic"

	"github.com/cloudwego/mirgen/internal/gen"
)

// A Stats records statistics about the code generator since the process
// started.
type Stats struct {
	Funcs FuncStats
	Alloc AllocStats
}

// A FuncStats counts the compiled functions.
type FuncStats struct {
	Compiled int
	Failed   int
}

// An AllocStats records what the register allocator needed beyond the
// hard registers.
type AllocStats struct {
	Slots  int
	Splits int
	Saved  int
}

// GetStats returns statistics of the code generator.
func GetStats() Stats {
	return Stats{
		Funcs: FuncStats{
			Compiled: int(atomic.LoadUint64(&gen.FuncCount)),
			Failed:   int(atomic.LoadUint64(&gen.ErrorCount)),
		},
		Alloc: AllocStats{
			Slots:  int(atomic.LoadUint64(&gen.SlotCount)),
			Splits: int(atomic.LoadUint64(&gen.SplitCount)),
			Saved:  int(atomic.LoadUint64(&gen.SavedCount)),
		},
	}
}
