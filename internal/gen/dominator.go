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

/** This is an implementation of the Lengauer-Tarjan algorithm described in
 *  https://doi.org/10.1145%2F357062.357071
 */

package gen

type _LtNode struct {
    semi     int
    node     *BB
    dom      *_LtNode
    label    *_LtNode
    parent   *_LtNode
    ancestor *_LtNode
    pred     []*_LtNode
    bucket   []*_LtNode
}

type _LengauerTarjan struct {
    ctx    *Context
    nodes  []*_LtNode
    vertex map[*BB]int
}

type _DomScratch struct {
    gen   int
    valid bool
    kids  map[*BB][]*BB
}

func (self *_LengauerTarjan) dfs(bb *BB) {
    i := len(self.nodes)
    self.vertex[bb] = i

    /* create a new node */
    p := &_LtNode {
        semi : i,
        node : bb,
    }

    /* add to node list */
    p.label = p
    self.nodes = append(self.nodes, p)

    /* traverse the successors */
    for _, e := range bb.out {
        w := self.ctx.dst(e)
        idx, ok := self.vertex[w]

        /* not visited yet */
        if !ok {
            self.dfs(w)
            idx = self.vertex[w]
            self.nodes[idx].parent = p
        }

        /* add predecessors */
        q := self.nodes[idx]
        q.pred = append(q.pred, p)
    }
}

func (self *_LengauerTarjan) eval(p *_LtNode) *_LtNode {
    if p.ancestor == nil {
        return p
    } else {
        self.compress(p)
        return p.label
    }
}

func (self *_LengauerTarjan) compress(p *_LtNode) {
    if p.ancestor.ancestor != nil {
        self.compress(p.ancestor)
        if p.label.semi > p.ancestor.label.semi { p.label = p.ancestor.label }
        p.ancestor = p.ancestor.ancestor
    }
}

// computeDominators sets the immediate dominator of every block reachable
// from entry, and numbers the dominator tree for constant-time queries.
func (self *Context) computeDominators() {
    lt := &_LengauerTarjan {
        ctx    : self,
        vertex : make(map[*BB]int, len(self.blocks)),
    }

    /* Step 1: depth-first numbering */
    lt.dfs(self.entry)

    /* Step 2 and 3: semidominators and implicit immediate dominators */
    for i := len(lt.nodes) - 1; i > 0; i-- {
        p := lt.nodes[i]
        for _, v := range p.pred {
            if q := lt.eval(v); q.semi < p.semi {
                p.semi = q.semi
            }
        }

        /* link the ancestor */
        p.ancestor = p.parent
        lt.nodes[p.semi].bucket = append(lt.nodes[p.semi].bucket, p)

        /* implicitly define the immediate dominators */
        for _, v := range p.parent.bucket {
            if q := lt.eval(v); q.semi < v.semi {
                v.dom = q
            } else {
                v.dom = p.parent
            }
        }

        /* clear the bucket */
        p.parent.bucket = p.parent.bucket[:0]
    }

    /* Step 4: explicit immediate dominators in increasing order */
    for _, p := range lt.nodes[1:] {
        if p.dom != lt.nodes[p.semi] {
            p.dom = p.dom.dom
        }
    }

    /* map the dominator relations */
    kids := make(map[*BB][]*BB, len(lt.nodes))
    for _, bb := range self.blocks {
        bb.idom = nil
        bb.domPre, bb.domPost = -1, -1
    }
    for _, p := range lt.nodes[1:] {
        p.node.idom = p.dom.node
        kids[p.dom.node] = append(kids[p.dom.node], p.node)
    }

    /* pre and post numbers of the dominator tree */
    n := 0
    var walk func(bb *BB)
    walk = func(bb *BB) {
        bb.domPre = n
        n++
        for _, v := range kids[bb] {
            walk(v)
        }
        bb.domPost = n
        n++
    }
    walk(self.entry)
    self.dom = _DomScratch { gen: self.cfgGen, valid: true, kids: kids }
}

// ensureDominators recomputes the dominators if the CFG changed.
func (self *Context) ensureDominators() {
    if !self.dom.valid || self.dom.gen != self.cfgGen {
        self.computeDominators()
    }
}

// dominates reports whether a dominates b. Unreachable blocks dominate and
// are dominated by nothing but themselves.
func (self *Context) dominates(a *BB, b *BB) bool {
    if a == b {
        return true
    } else if a.domPre < 0 || b.domPre < 0 {
        return false
    } else {
        return a.domPre < b.domPre && b.domPost < a.domPost
    }
}

// domChildren returns the blocks immediately dominated by bb.
func (self *Context) domChildren(bb *BB) []*BB {
    return self.dom.kids[bb]
}
