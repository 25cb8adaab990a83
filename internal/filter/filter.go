// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filter provides a chain stage that drops telemetry items matching
// boolean expressions.
//
// Expressions use expr-lang syntax and see the item through these fields:
//
//	kind           "Request", "Dependency", "Event", "Metric", "Trace", "Exception"
//	name           request, dependency, event or metric name
//	operation_id   root correlation id
//	success        request or dependency outcome
//	result_code    response code or dependency result
//	duration_ms    request or dependency duration
//	target         dependency target
//	severity       trace or exception severity (0 verbose .. 4 critical)
//	message        trace or exception message
//	value          metric value
//	properties     map of custom properties
//
// Example: kind == "Request" && name == "GET /healthz"
package filter

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// Filter is a compiled set of drop expressions.
type Filter struct {
	programs    []*vm.Program
	expressions []string
	logger      *log.Limited
}

// Compile compiles every expression. An expression that does not evaluate
// to a boolean is rejected.
func Compile(expressions []string, logger *slog.Logger) (*Filter, error) {
	f := &Filter{
		expressions: expressions,
		logger:      log.NewLimited(log.WithComponent(logger, "filter"), time.Minute, 1),
	}
	for _, e := range expressions {
		prog, err := expr.Compile(e,
			expr.Env(env{}),
			expr.AllowUndefinedVariables(),
			expr.AsBool(),
		)
		if err != nil {
			return nil, fmt.Errorf("compile filter %q: %w", e, err)
		}
		f.programs = append(f.programs, prog)
	}
	return f, nil
}

// Len returns the number of expressions.
func (f *Filter) Len() int {
	return len(f.programs)
}

// Match reports whether any expression matches item. An expression that
// fails at run time does not match.
func (f *Filter) Match(item telemetry.Item) bool {
	if len(f.programs) == 0 {
		return false
	}
	e := envOf(item)
	for i, prog := range f.programs {
		out, err := expr.Run(prog, e)
		if err != nil {
			f.logger.Warn("FilterEvaluationFailure", "filter expression failed",
				"expression", f.expressions[i], log.Error(err))
			continue
		}
		if matched, _ := out.(bool); matched {
			return true
		}
	}
	return false
}

// Stage drops matching items and forwards the rest.
type Stage struct {
	next    telemetry.Processor
	filter  *Filter
	dropped atomic.Int64
}

// Process implements telemetry.Processor.
func (s *Stage) Process(item telemetry.Item) {
	if s.filter.Match(item) {
		s.dropped.Add(1)
		return
	}
	s.next.Process(item)
}

// Dropped returns how many items the stage discarded.
func (s *Stage) Dropped() int64 {
	return s.dropped.Load()
}

// Factory returns a chain factory for f.
func (f *Filter) Factory() telemetry.ProcessorFactory {
	return func(next telemetry.Processor) telemetry.Processor {
		return &Stage{next: next, filter: f}
	}
}

// Use appends a filter stage to b. Nothing is appended when f is empty.
func (f *Filter) Use(b *pipeline.Builder) error {
	if f.Len() == 0 {
		return nil
	}
	return b.Use(f.Factory())
}

type env struct {
	Kind        string            `expr:"kind"`
	Name        string            `expr:"name"`
	OperationID string            `expr:"operation_id"`
	Success     bool              `expr:"success"`
	ResultCode  string            `expr:"result_code"`
	DurationMs  float64           `expr:"duration_ms"`
	Target      string            `expr:"target"`
	Severity    int               `expr:"severity"`
	Message     string            `expr:"message"`
	Value       float64           `expr:"value"`
	Properties  map[string]string `expr:"properties"`
}

func envOf(item telemetry.Item) env {
	meta := item.Meta()
	e := env{
		Kind:        string(item.Kind()),
		OperationID: meta.Operation.ID,
		Properties:  meta.Properties,
	}
	if e.Properties == nil {
		e.Properties = map[string]string{}
	}
	switch v := item.(type) {
	case *telemetry.Request:
		e.Name = v.Name
		e.Success = v.Success
		e.ResultCode = v.ResponseCode
		e.DurationMs = float64(v.Duration.Microseconds()) / 1000
	case *telemetry.Dependency:
		e.Name = v.Name
		e.Success = v.Success
		e.ResultCode = v.ResultCode
		e.DurationMs = float64(v.Duration.Microseconds()) / 1000
		e.Target = v.Target
	case *telemetry.Event:
		e.Name = v.Name
	case *telemetry.Metric:
		e.Name = v.Name
		e.Value = v.Value
	case *telemetry.Trace:
		e.Message = v.Message
		e.Severity = int(v.Severity)
	case *telemetry.Exception:
		e.Message = v.Message
		if e.Message == "" && v.Err != nil {
			e.Message = v.Err.Error()
		}
		e.Severity = int(v.Severity)
	}
	return e
}
