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
    `fmt`
    `io`

    `github.com/ajstarks/svgo`
    `github.com/cloudwego/mirgen/ir`
    `github.com/davecgh/go-spew/spew`
)

var _dumper = spew.ConfigState {
    Indent                  : "    ",
    SortKeys                : true,
    DisablePointerMethods   : true,
    DisablePointerAddresses : true,
}

func (self *Context) trace(format string, args ...interface{}) {
    if self.opts.Trace != nil {
        _, _ = fmt.Fprintf(self.opts.Trace, format, args...)
    }
}

type _LoopDump struct {
    Header    string
    Parent    string
    Preheader string
    Depth     int
    Blocks    []string
}

// dumpLoopTree writes the loops of the function.
func (self *Context) dumpLoopTree() {
    self.ensureLoopTree()
    loops := make(map[string]_LoopDump, len(self.loop.loops))
    for _, l := range self.loop.loops {
        d := _LoopDump {
            Header : l.header.String(),
            Parent : l.parent.String(),
            Depth  : l.depth,
        }
        if l.preheader != nil {
            d.Preheader = l.preheader.String()
        }
        for _, bb := range self.loopBlocks(l) {
            d.Blocks = append(d.Blocks, bb.String())
        }
        loops[l.String()] = d
    }
    self.trace("loop tree of %s:\n", self.fn.Name)
    _dumper.Fdump(self.opts.Trace, loops)
}

// dumpAllocation writes the location of every allocated pseudo register.
func (self *Context) dumpAllocation() {
    locs := make(map[string]string)
    for v := self.nhard; v < len(self.ra.loc); v++ {
        switch loc := self.ra.loc[v]; {
            case loc == _NoLoc    : continue
            case self.isSlot(loc) : locs[self.varReg(v).String()] = fmt.Sprintf("slot%d", self.slotOf(loc))
            default               : locs[self.varReg(v).String()] = ir.HardReg(loc).String()
        }
    }
    splits := make([]string, 0, len(self.ra.splits))
    for _, sp := range self.ra.splits {
        splits = append(splits, fmt.Sprintf("%s: %s -> slot%d over %v", self.varReg(sp.v), sp.h, sp.slot, sp.blocks))
    }
    self.trace("allocation of %s (%d stack slots):\n%s\n", self.fn.Name, self.ra.nslots, self.dumpLiveRanges())
    _dumper.Fdump(self.opts.Trace, locs, splits)
}

/** live range chart **/

const (
    _RowHeight = 24
    _ColWidth  = 48
    _Margin    = 100
    _TextStyle = "fill:black;font-size:16px;font-family:monospace"
)

// drawLiveRanges writes an SVG chart of the current live ranges: one row
// per program point pair and one column per variable, with white dots on
// definitions and black dots on uses.
func (self *Context) drawLiveRanges(w io.Writer) {
    var vars []int
    for v, sp := range self.live.spans {
        if len(sp) != 0 && !self.isHardVar(v) {
            vars = append(vars, v)
        }
    }

    /* the width of the instruction column */
    maxi := 0
    for _, p := range self.live.insnAt {
        if p != nil && len(p.String()) > maxi {
            maxi = len(p.String())
        }
    }
    insw := maxi * 9 + 120
    rows := len(self.live.insnAt)
    row := func(pt int) int {
        return _Margin + (pt / 2) * _RowHeight - 5
    }

    /* the instructions */
    p := svg.New(w)
    p.Start(insw + len(vars) * _ColWidth + _Margin, rows * _RowHeight + _Margin * 2)
    p.Rect(0, 0, insw + len(vars) * _ColWidth + _Margin, rows * _RowHeight + _Margin * 2, "fill:white")
    p.Text(16, 40, self.fn.Name, _TextStyle)
    for k, ins := range self.live.insnAt {
        h := row(2 * k)
        if bb := self.live.bbAt[k]; k == 0 || self.live.bbAt[k - 1] != bb {
            p.Text(16, h + 5, bb.String(), "fill:gray;font-size:16px;font-family:monospace")
            p.Line(10, h - 11, insw + 5, h - 11, "stroke:lightgray")
        }
        if ins != nil {
            p.Text(insw, h + 5, ins.String(), _TextStyle + ";text-anchor:end")
        }
        p.Line(insw + 10, h, insw + len(vars) * _ColWidth + _Margin / 2, h, "stroke:gray")
    }

    /* the ranges */
    for i, v := range vars {
        x := insw + i * _ColWidth + _Margin / 2
        p.Text(x, 70, self.varReg(v).String(), _TextStyle + ";text-anchor:middle")
        for _, s := range self.live.spans[v] {
            p.Line(x, row(s.start), x, row(s.finish), "stroke:black;stroke-width:3")
        }
        for k, ins := range self.live.insnAt {
            if ins == nil {
                continue
            }
            self.forEachVar(ins, func(_ int, u int, out bool) {
                switch {
                    case u != v : return
                    case out    : p.Circle(x, row(2 * k), 4, "fill:white;stroke:black;stroke-width:2")
                    default     : p.Circle(x, row(2 * k), 4, "fill:black;stroke:black;stroke-width:2")
                }
            })
        }
    }
    p.End()
}
