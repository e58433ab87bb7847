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
	"io"
)

type Options struct {
	OptLevel        int
	MaxStackSlots   int
	DebugLevel      int
	Trace           io.Writer
	LiveRangeSVG    io.Writer
	InvariantChecks bool
	Workers         int
	NoSplitting     bool
}

// Tracing reports whether pass dumps at the given debug level are wanted.
func (self *Options) Tracing(level int) bool {
	return self.Trace != nil && self.DebugLevel >= level
}

// Splitting reports whether live-range splitting is enabled. It needs the
// frequencies computed from the loop tree, so level 0 never splits.
func (self *Options) Splitting() bool {
	return self.OptLevel >= 1 && !self.NoSplitting
}

func GetDefaultOptions() Options {
	return Options{
		OptLevel:        OptLevel,
		MaxStackSlots:   MaxStackSlots,
		DebugLevel:      DebugLevel,
		InvariantChecks: InvariantChecks,
		Workers:         Workers,
	}
}
