// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package command

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ember/command")

// Error codes for command dispatch failures.
const (
	CodeEmptyInput     = "EMPTY_INPUT"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
)

// ParsedCommand represents a parsed command input.
type ParsedCommand struct {
	Name string // command name (first whitespace-delimited token)
	Args string // unparsed argument string (preserves internal whitespace)
	Raw  string // original input
}

// Parse splits raw input into command name and arguments.
// The command name is the first whitespace-delimited token.
// Arguments preserve internal whitespace.
func Parse(input string) (*ParsedCommand, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, oops.Code(CodeEmptyInput).Errorf("no command provided")
	}

	idx := strings.IndexAny(trimmed, " \t")
	if idx == -1 {
		return &ParsedCommand{Name: trimmed, Args: "", Raw: input}, nil
	}

	name := trimmed[:idx]
	args := strings.TrimLeft(trimmed[idx+1:], " \t")

	return &ParsedCommand{Name: name, Args: args, Raw: input}, nil
}

// Dispatcher resolves inbound chat lines against the command table and
// executes the bound handler.
type Dispatcher struct {
	table *Table
}

// NewDispatcher creates a dispatcher over the given table.
func NewDispatcher(table *Table) *Dispatcher {
	return &Dispatcher{table: table}
}

// Dispatch parses input, looks up the command, and executes it.
// The returned string is the reply text for the chat platform.
func (d *Dispatcher) Dispatch(ctx context.Context, input string, inv *Invocation) (reply string, err error) {
	parsed, err := Parse(input)
	if err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "command.execute",
		trace.WithAttributes(
			attribute.String("command.name", parsed.Name),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	entry, ok := d.table.Get(parsed.Name)
	if !ok {
		RecordExecution(parsed.Name, "unknown", StatusNotFound)
		err = oops.Code(CodeUnknownCommand).
			With("command", parsed.Name).
			Errorf("unknown command: %s", parsed.Name)
		return "", err
	}

	span.SetAttributes(attribute.String("command.source", entry.Source))

	inv.Name = parsed.Name
	inv.Args = parsed.Args

	start := time.Now()
	reply, err = entry.Handler(ctx, inv)
	RecordDuration(parsed.Name, entry.Source, time.Since(start))

	if err != nil {
		RecordExecution(parsed.Name, entry.Source, StatusError)
		slog.WarnContext(ctx, "command execution failed",
			"command", parsed.Name,
			"source", entry.Source,
			"error", err,
		)
		return "", err
	}

	RecordExecution(parsed.Name, entry.Source, StatusSuccess)
	return reply, nil
}
