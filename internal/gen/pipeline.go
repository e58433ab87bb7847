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

package gen

import (
    `sync/atomic`

    `github.com/cloudwego/mirgen/ir`
)

var (
    FuncCount  uint64 = 0
    ErrorCount uint64 = 0
    SlotCount  uint64 = 0
    SplitCount uint64 = 0
    SavedCount uint64 = 0
)

type _PassFunc func(*Context) error

type _PassDescriptor struct {
    pass  _PassFunc
    desc  string
    level int
    dump  func(*Context)
}

func always(fn func(*Context)) _PassFunc {
    return func(self *Context) error {
        fn(self)
        return nil
    }
}

// _passes is the whole pipeline. A pass runs when the optimization level is
// at least its level, the SSA passes are grouped between construction and
// destruction.
var _passes = [...]_PassDescriptor {
    { level: 2, desc: "Memory Operand Simplification"           , pass: always((*Context).simplifyMem) },
    { level: 2, desc: "SSA Construction"                        , pass: always((*Context).enterSSA) },
    { level: 2, desc: "Global Value Numbering"                  , pass: always((*Context).runGVN) },
    { level: 2, desc: "SSA Dead Code Elimination"               , pass: always((*Context).ssaDCE) },
    { level: 2, desc: "Dead Store Elimination"                  , pass: always((*Context).dse) },
    { level: 2, desc: "Loop Invariant Code Motion"              , pass: always(func(self *Context) { self.licm() }), dump: (*Context).dumpLoopTree },
    { level: 2, desc: "Register Pressure Relief"                , pass: always(func(self *Context) { self.relievePressure() }) },
    { level: 3, desc: "Global Value Numbering (second round)"   , pass: always((*Context).runGVN) },
    { level: 3, desc: "SSA Dead Code Elimination (second round)", pass: always((*Context).ssaDCE) },
    { level: 2, desc: "SSA Destruction"                         , pass: always((*Context).exitSSA) },
    { level: 0, desc: "Machinize"                               , pass: always(func(self *Context) { self.tgt.Machinize(self) }) },
    { level: 1, desc: "Block Frequencies"                       , pass: always((*Context).setFrequencies) },
    { level: 1, desc: "Dead Code Elimination"                   , pass: always(func(self *Context) { self.dce() }) },
    { level: 1, desc: "Register Coalescing"                     , pass: always(func(self *Context) { self.coalesce() }) },
    { level: 0, desc: "Register Assignment"                     , pass: (*Context).allocate, dump: (*Context).dumpAllocation },
    { level: 0, desc: "Register Rewriting"                      , pass: always(func(self *Context) { self.ra.saved = self.rewrite() }) },
    { level: 1, desc: "Combining"                               , pass: always(func(self *Context) { self.combine() }) },
    { level: 1, desc: "Dead Code Elimination (after combining)" , pass: always(func(self *Context) { self.dce() }) },
    { level: 0, desc: "Prolog and Epilog"                       , pass: always(func(self *Context) { self.tgt.MakePrologEpilog(self, self.ra.saved, self.ra.nslots) }) },
}

func (self *Context) enterSSA() {
    self.buildSSA()
    self.minimizeSSA()
    self.renameSSA()
}

// allocate assigns the locations and draws the live ranges if asked to.
func (self *Context) allocate() error {
    if err := self.assign(); err != nil {
        return err
    }
    if self.opts.LiveRangeSVG != nil {
        self.drawLiveRanges(self.opts.LiveRangeSVG)
    }
    return nil
}

func (self *Context) exitSSA() {
    self.makeConventional()
    self.undoSSA()
}

// Generate compiles f in place into allocated machine form. The only error
// is AllocError, the context must be Reset before it is used again either way.
func (self *Context) Generate(f *ir.Func) error {
    self.buildCFG(f)
    self.afterPass("CFG Construction")

    /* run every pass of the level */
    for _, p := range _passes {
        if self.opts.OptLevel < p.level {
            continue
        }
        if err := p.pass(self); err != nil {
            self.trace("%s failed: %v\n", p.desc, err)
            atomic.AddUint64(&ErrorCount, 1)
            return err
        }
        self.afterPass(p.desc)
        if p.dump != nil && self.opts.Tracing(2) {
            p.dump(self)
        }
    }

    /* allocation statistics */
    atomic.AddUint64(&FuncCount, 1)
    atomic.AddUint64(&SlotCount, uint64(self.ra.nslots))
    atomic.AddUint64(&SplitCount, uint64(len(self.ra.splits)))
    atomic.AddUint64(&SavedCount, uint64(len(self.ra.saved)))
    return nil
}

// afterPass writes the trace and checks the invariants.
func (self *Context) afterPass(desc string) {
    if self.opts.Tracing(1) {
        self.trace("=== %s ===\n%s\n", desc, self.dumpCFG())
    }
    if self.opts.InvariantChecks {
        self.verify()
    }
}
