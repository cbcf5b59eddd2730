// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package argspec

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Choice is a pflag.Value restricted to a fixed list of values.
// Setting it to anything else fails, which makes the flag parsing fail.
type Choice[T comparable] struct {
	value    T
	choices  []T
	typeName string
	parse    func(string) (T, error)
}

var _ pflag.Value = (*Choice[string])(nil)

// String implements pflag.Value.
func (c *Choice[T]) String() string { return fmt.Sprint(c.value) }

// Type implements pflag.Value. It reports the underlying type ("string" or "int"), so
// tools that read flags generically (like viper) convert the value correctly.
func (c *Choice[T]) Type() string { return c.typeName }

// Set implements pflag.Value.
func (c *Choice[T]) Set(s string) error {
	v, err := c.parse(s)
	if err != nil {
		return err
	}
	if !slices.Contains(c.choices, v) {
		return errors.Errorf("invalid choice %q, valid values are {%s}", s, c.ChoicesString())
	}
	c.value = v
	return nil
}

// Value returns the current value.
func (c *Choice[T]) Value() T { return c.value }

// Choices returns a copy of the valid values.
func (c *Choice[T]) Choices() []T { return slices.Clone(c.choices) }

// ChoicesString lists the valid values separated by commas.
func (c *Choice[T]) ChoicesString() string {
	parts := make([]string, len(c.choices))
	for ii, choice := range c.choices {
		parts[ii] = fmt.Sprint(choice)
	}
	return strings.Join(parts, ", ")
}

func newChoice[T comparable](typeName string, parse func(string) (T, error), choices []T, value T) (*Choice[T], error) {
	if len(choices) == 0 {
		return nil, errors.New("a choice flag requires at least one valid value")
	}
	if !slices.Contains(choices, value) {
		return nil, errors.Errorf("default %v is not one of the valid values %v", value, choices)
	}
	return &Choice[T]{value: value, choices: slices.Clone(choices), typeName: typeName, parse: parse}, nil
}

// StringChoice registers a string flag whose value must be one of choices.
func StringChoice(fs *pflag.FlagSet, name, shorthand string, choices []string, value, usage string) (*Choice[string], error) {
	c, err := newChoice("string", func(s string) (string, error) { return s, nil }, choices, value)
	if err != nil {
		return nil, errors.WithMessagef(err, "flag --%s", name)
	}
	fs.VarP(c, name, shorthand, fmt.Sprintf("%s {%s}", usage, c.ChoicesString()))
	return c, nil
}

// IntChoice registers an int flag whose value must be one of choices.
func IntChoice(fs *pflag.FlagSet, name, shorthand string, choices []int, value int, usage string) (*Choice[int], error) {
	parse := func(s string) (int, error) {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, errors.Errorf("invalid integer %q", s)
		}
		return v, nil
	}
	c, err := newChoice("int", parse, choices, value)
	if err != nil {
		return nil, errors.WithMessagef(err, "flag --%s", name)
	}
	fs.VarP(c, name, shorthand, fmt.Sprintf("%s {%s}", usage, c.ChoicesString()))
	return c, nil
}
