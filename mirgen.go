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
	"bytes"
	"context"
	"sync"

	"github.com/cloudwego/mirgen/internal/gen"
	"github.com/cloudwego/mirgen/internal/opts"
	"github.com/cloudwego/mirgen/ir"
	"github.com/cloudwego/mirgen/target"
	"github.com/oleiade/lane"
)

// Generator compiles functions for one target. A Generator is safe for
// concurrent use, every call works on its own compilation context and the
// trace of each function reaches the writers in one piece.
type Generator struct {
	tgt  target.Target
	opts opts.Options
	pool sync.Pool
	lock sync.Mutex
}

// worker is a pooled compilation context. Its trace output is collected
// per function and copied to the configured writers as a whole.
type worker struct {
	ctx   *gen.Context
	opts  opts.Options
	trace bytes.Buffer
	svg   bytes.Buffer
}

// NewGenerator creates a generator for tgt. A nil target selects the AMD64
// model of the running CPU.
func NewGenerator(tgt target.Target, options ...Option) *Generator {
	o := opts.GetDefaultOptions()
	for _, fn := range options {
		fn(&o)
	}
	if tgt == nil {
		tgt = target.Host()
	}
	return &Generator{tgt: tgt, opts: o}
}

// Target returns the target of the generator.
func (self *Generator) Target() target.Target {
	return self.tgt
}

func (self *Generator) newWorker() *worker {
	if v := self.pool.Get(); v != nil {
		return v.(*worker)
	}
	w := &worker{opts: self.opts}
	if self.opts.Trace != nil {
		w.opts.Trace = &w.trace
	}
	if self.opts.LiveRangeSVG != nil {
		w.opts.LiveRangeSVG = &w.svg
	}
	w.ctx = gen.New(self.tgt, &w.opts)
	return w
}

// flush copies the output of one function to the shared writers.
func (self *Generator) flush(w *worker) {
	if w.trace.Len() == 0 && w.svg.Len() == 0 {
		return
	}
	self.lock.Lock()
	if w.trace.Len() != 0 {
		_, _ = self.opts.Trace.Write(w.trace.Bytes())
	}
	if w.svg.Len() != 0 {
		_, _ = self.opts.LiveRangeSVG.Write(w.svg.Bytes())
	}
	self.lock.Unlock()
	w.trace.Reset()
	w.svg.Reset()
}

// Generate optimizes f in place and turns it into allocated machine form:
// every operand refers to hard registers, stack slots or immediates, and
// the prolog and epilog are in place.
//
// The only error is AllocError, f is left in an unspecified state then.
func (self *Generator) Generate(f *ir.Func) error {
	w := self.newWorker()
	err := w.ctx.Generate(f)
	w.ctx.Reset()
	self.flush(w)
	self.pool.Put(w)
	return err
}

// GenerateAll compiles the functions concurrently with the configured
// number of workers. It returns the error of the first failing function in
// list order, or the error of ctx if it is done before every function has
// been compiled. Functions not yet started when ctx is done are left
// untouched.
func (self *Generator) GenerateAll(ctx context.Context, fns []*ir.Func) error {
	wg := sync.WaitGroup{}
	errs := make([]error, len(fns))

	/* the work queue */
	q := lane.NewQueue()
	for i := range fns {
		q.Enqueue(i)
	}

	/* start the workers */
	for n := 0; n < self.opts.Workers && n < len(fns); n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				v := q.Dequeue()
				if v == nil {
					return
				}
				i := v.(int)
				errs[i] = self.Generate(fns[i])
			}
		}()
	}

	/* the first error wins */
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Generate compiles a single function with a temporary generator.
func Generate(tgt target.Target, f *ir.Func, options ...Option) error {
	return NewGenerator(tgt, options...).Generate(f)
}
