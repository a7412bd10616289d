// Package processor shapes captured command output into lines with named,
// chainable steps.
package processor

import (
	"fmt"
	"sort"
	"strings"
)

const (
	Trim       = "trim"
	SplitLines = "split_lines"
	KeyValue   = "key_value"
	DropEmpty  = "drop_empty"
)

// Names lists the built-in processors, sorted.
var Names = []string{DropEmpty, KeyValue, SplitLines, Trim}

type Processor interface {
	Process([]string) ([]string, error)
	Name() string
}

// Chain holds registered processors and applies them by name, in order.
type Chain struct {
	processors map[string]Processor
}

func NewChain() *Chain {
	c := &Chain{processors: make(map[string]Processor)}
	c.Register(TrimProcessor{})
	c.Register(SplitLinesProcessor{})
	c.Register(KeyValueProcessor{})
	c.Register(DropEmptyProcessor{})
	return c
}

func (c *Chain) Register(p Processor) {
	c.processors[p.Name()] = p
}

// Apply splits output into lines and runs the named processors over them.
// No names means the plain lines.
func (c *Chain) Apply(output string, names ...string) ([]string, error) {
	for _, name := range names {
		if _, ok := c.processors[name]; !ok {
			return nil, fmt.Errorf("processor %q not registered", name)
		}
	}
	lines := strings.Split(strings.TrimSuffix(output, "\n"), "\n")
	if output == "" {
		lines = []string{}
	}
	for _, name := range names {
		var err error
		if lines, err = c.processors[name].Process(lines); err != nil {
			return nil, fmt.Errorf("%s processor failed: %w", name, err)
		}
	}
	return lines, nil
}

// TrimProcessor trims whitespace from each line.
type TrimProcessor struct{}

func (TrimProcessor) Name() string { return Trim }

func (TrimProcessor) Process(lines []string) ([]string, error) {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.TrimSpace(line)
	}
	return out, nil
}

// SplitLinesProcessor breaks every line into its whitespace separated fields.
type SplitLinesProcessor struct{}

func (SplitLinesProcessor) Name() string { return SplitLines }

func (SplitLinesProcessor) Process(lines []string) ([]string, error) {
	out := make([]string, 0, len(lines)*3)
	for _, line := range lines {
		out = append(out, strings.Fields(line)...)
	}
	return out, nil
}

// KeyValueProcessor keeps "key: value" lines, normalised and sorted by key.
// A later duplicate key wins.
type KeyValueProcessor struct{}

func (KeyValueProcessor) Name() string { return KeyValue }

func (KeyValueProcessor) Process(lines []string) ([]string, error) {
	kv := make(map[string]string)
	for _, line := range lines {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty key in line: %q", line)
		}
		kv[key] = strings.TrimSpace(value)
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + ": " + kv[k]
	}
	return out, nil
}

type DropEmptyProcessor struct{}

func (DropEmptyProcessor) Name() string { return DropEmpty }

func (DropEmptyProcessor) Process(lines []string) ([]string, error) {
	out := lines[:0:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
