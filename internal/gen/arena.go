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
)

// Ref is a generation-checked handle into an Arena. The zero Ref is nil.
type Ref[T any] struct {
    idx uint32
    gen uint32
}

func (self Ref[T]) IsNil() bool {
    return self.gen == 0
}

func (self Ref[T]) String() string {
    if self.gen == 0 {
        return "<nil>"
    } else {
        return fmt.Sprintf("#%d.%d", self.idx, self.gen)
    }
}

type _ArenaSlot[T any] struct {
    val  T
    gen  uint32
    used bool
}

// Arena owns objects of type T. Freed slots are recycled with a bumped
// generation, so a stale Ref panics instead of aliasing the new object.
type Arena[T any] struct {
    slots []*_ArenaSlot[T]
    free  []uint32
    live  int
}

func (self *Arena[T]) New() (Ref[T], *T) {
    var i uint32
    var s *_ArenaSlot[T]

    /* reuse a free slot if any */
    if n := len(self.free); n != 0 {
        i = self.free[n - 1]
        s = self.slots[i]
        self.free = self.free[:n - 1]
    } else {
        i = uint32(len(self.slots))
        s = &_ArenaSlot[T] { gen: 0 }
        self.slots = append(self.slots, s)
    }

    /* bump the generation */
    s.gen++
    s.used = true
    self.live++
    return Ref[T] { idx: i, gen: s.gen }, &s.val
}

func (self *Arena[T]) slot(r Ref[T]) *_ArenaSlot[T] {
    if r.gen == 0 {
        panic("arena: nil reference")
    }
    if int(r.idx) >= len(self.slots) {
        panic("arena: reference out of range: " + r.String())
    }
    if s := self.slots[r.idx]; !s.used || s.gen != r.gen {
        panic("arena: stale reference: " + r.String())
    } else {
        return s
    }
}

// Get returns the object behind r, panicking on a stale reference.
func (self *Arena[T]) Get(r Ref[T]) *T {
    return &self.slot(r).val
}

// Valid reports whether r still refers to a live object.
func (self *Arena[T]) Valid(r Ref[T]) bool {
    if r.gen == 0 || int(r.idx) >= len(self.slots) {
        return false
    } else {
        s := self.slots[r.idx]
        return s.used && s.gen == r.gen
    }
}

func (self *Arena[T]) Free(r Ref[T]) {
    var zero T
    s := self.slot(r)
    s.val = zero
    s.used = false
    self.live--
    self.free = append(self.free, r.idx)
}

// Len is the number of live objects.
func (self *Arena[T]) Len() int {
    return self.live
}

// Reset frees every object, invalidating all outstanding references.
func (self *Arena[T]) Reset() {
    var zero T
    self.free = self.free[:0]
    for i := len(self.slots) - 1; i >= 0; i-- {
        s := self.slots[i]
        if s.used {
            s.val = zero
            s.used = false
        }
        self.free = append(self.free, uint32(i))
    }
    self.live = 0
}
