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
    `strings`
    `testing`

    `github.com/cloudwego/mirgen/ir`
    `github.com/cloudwego/mirgen/target`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
    `gonum.org/v1/gonum/graph/flow`
    `gonum.org/v1/gonum/graph/simple`
)

// cfgToDot renders the CFG in graphviz format, handy when a test fails.
func cfgToDot(ctx *Context) string {
    sb := strings.Builder{}
    sb.WriteString("digraph CFG {\n")
    for _, bb := range ctx.blocks {
        for _, e := range bb.out {
            style := "solid"
            if ctx.edge(e).fall {
                style = "dashed"
            }
            sb.WriteString(fmt.Sprintf("    %s -> %s [style=%s]\n", bb, ctx.dst(e), style))
        }
    }
    sb.WriteString("}\n")
    return sb.String()
}

func TestCFG_Build(t *testing.T) {
    ctx := newTestContext(2, target.Config{})
    fn := sumTo()
    var loop *ir.Insn
    for p := fn.Insns.Front(); p != nil; p = p.Next() {
        if p.Code == ir.LABEL && p.LabelName() == "loop" {
            loop = p
        }
    }
    ctx.buildCFG(fn)
    require.NotPanics(t, ctx.verify, cfgToDot(ctx))

    /* entry, the initial block, the loop header, the body, done and exit */
    require.Len(t, ctx.blocks, 6, cfgToDot(ctx))
    assert.Same(t, ctx.entry, ctx.blocks[0])
    assert.Same(t, ctx.exit, ctx.blocks[5])
    assert.Len(t, ctx.labelBB(loop).in, 2)
    assert.Len(t, ctx.exit.in, 1)

    /* every block but entry starts with a label */
    for _, bb := range ctx.blocks[1:5] {
        assert.Equal(t, ir.LABEL, bb.head.Code, bb.String())
    }
}

func TestCFG_RemoveUnreachable(t *testing.T) {
    b := ir.NewBuilder("dead", nil, []ir.Type { ir.I64 })
    b.Jmp("end")
    b.Label("dead")
    b.Ret(ir.I(1))
    b.Label("end")
    b.Ret(ir.I(2))
    fn := b.Build()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    require.NotPanics(t, ctx.verify)
    assert.Len(t, ctx.blocks, 4, cfgToDot(ctx))
    for p := fn.Insns.Front(); p != nil; p = p.Next() {
        assert.False(t, p.Code == ir.RET && p.Ops[0].Int == 1, "unreachable return survived")
    }
}

func TestCFG_BranchToNextRemoved(t *testing.T) {
    b := ir.NewBuilder("next", []ir.Type { ir.I64 }, []ir.Type { ir.I64 })
    b.Emit(ir.BT, ir.L("next"), ir.R(b.Arg(0)))
    b.Label("next")
    b.Ret(ir.R(b.Arg(0)))
    fn := b.Build()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    require.NotPanics(t, ctx.verify)
    assert.Equal(t, 0, countCode(fn, ir.BT))
}

func TestCFG_IndirectJump(t *testing.T) {
    b := ir.NewBuilder("ind", []ir.Type { ir.I64 }, []ir.Type { ir.I64 })
    a := b.Reg(ir.I64, "a")
    b.Emit(ir.LADDR, ir.R(a), ir.L("there"))
    b.Emit(ir.JMPI, ir.R(a))
    b.Label("here")
    b.Ret(ir.I(1))
    b.Label("there")
    b.Ret(ir.I(2))
    fn := b.Build()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    require.NotPanics(t, ctx.verify)

    /* "here" is not address-taken, nothing reaches it */
    var jmpi *BB
    for _, bb := range ctx.blocks {
        if tt := bb.terminator(); tt != nil && tt.Code == ir.JMPI {
            jmpi = bb
        }
    }
    require.NotNil(t, jmpi)
    require.Len(t, jmpi.out, 1)
    assert.Equal(t, "there", ctx.dst(jmpi.out[0]).head.LabelName())
    assert.Nil(t, ctx.splitEdge(jmpi.out[0]))
}

func TestCFG_IndirectJumpWithoutTargets(t *testing.T) {
    b := ir.NewBuilder("nowhere", []ir.Type { ir.I64 }, []ir.Type { ir.I64 })
    b.Emit(ir.JMPI, ir.R(b.Arg(0)))
    b.Label("after")
    b.Ret(ir.I(1))
    fn := b.Build()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    require.NotPanics(t, ctx.verify, cfgToDot(ctx))

    /* the jump falls off the function instead of dangling */
    var jmpi *BB
    for _, bb := range ctx.blocks {
        if tt := bb.terminator(); tt != nil && tt.Code == ir.JMPI {
            jmpi = bb
        }
    }
    require.NotNil(t, jmpi)
    require.Len(t, jmpi.out, 1)
    assert.Same(t, ctx.exit, ctx.dst(jmpi.out[0]))
    for _, bb := range ctx.blocks[:len(ctx.blocks) - 1] {
        assert.NotEmpty(t, bb.out, bb.String())
    }
}

func TestCFG_SplitEdge(t *testing.T) {
    fn := sumTo()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)

    /* split every edge that can be split, the program must still work */
    var edges []EdgeRef
    for _, bb := range ctx.blocks {
        edges = append(edges, bb.out...)
    }
    n := 0
    for _, e := range edges {
        if ctx.splitEdge(e) != nil {
            n++
        }
    }
    require.NotPanics(t, ctx.verify, cfgToDot(ctx))
    assert.NotZero(t, n)
    ctx.Reset()
    got := runSource(fn, 10)
    assert.Equal(t, []uint64 { 55 }, got.ret)
}

func TestDominators_AgainstGonum(t *testing.T) {
    for seed := int64(1); seed <= 100; seed++ {
        ctx := newTestContext(2, target.Config{})
        ctx.buildCFG(randomFunc(seed))
        ctx.computeDominators()

        /* the same graph for gonum */
        g := simple.NewDirectedGraph()
        for _, bb := range ctx.blocks {
            g.AddNode(simple.Node(bb.index))
        }
        for _, bb := range ctx.blocks {
            for _, e := range bb.out {
                if d := ctx.dst(e); d != bb {
                    g.SetEdge(g.NewEdge(simple.Node(bb.index), simple.Node(d.index)))
                }
            }
        }
        dt := flow.Dominators(simple.Node(ctx.entry.index), g)

        /* the immediate dominators must agree */
        for _, bb := range ctx.blocks[1:] {
            want := dt.DominatorOf(int64(bb.index))
            require.NotNil(t, want, "seed %d: %s\n%s", seed, bb, cfgToDot(ctx))
            require.NotNil(t, bb.idom, "seed %d: %s\n%s", seed, bb, cfgToDot(ctx))
            assert.Equal(t, want.ID(), int64(bb.idom.index), "seed %d: %s\n%s", seed, bb, cfgToDot(ctx))
        }
        assert.Nil(t, ctx.entry.idom)

        /* dominance queries follow the tree */
        for _, a := range ctx.blocks {
            for _, b := range ctx.blocks {
                want := a == b
                for p := b.idom; p != nil && !want; p = p.idom {
                    want = p == a
                }
                assert.Equal(t, want, ctx.dominates(a, b), "seed %d: %s dom %s", seed, a, b)
            }
        }
    }
}
