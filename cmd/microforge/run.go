package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/microforge/internal/document"
	"github.com/dshills/microforge/internal/dsl"
	"github.com/dshills/microforge/internal/interp"
	"github.com/dshills/microforge/internal/render"
)

// programArtifact is the on-disk shape the build command writes.
type programArtifact struct {
	Program *dsl.Program    `json:"program"`
	Cases   json.RawMessage `json:"cases,omitempty"`
}

// newRunCmd builds the `microforge run` subcommand: execute a saved program
// against real input data.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <program.json> <input.json>",
		Short: "Execute a saved logic program against an input document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loadProgram(args[0])
			if err != nil {
				return err
			}
			if verr := dsl.Validate(prog); verr != nil {
				return fmt.Errorf("program is not valid: %w", verr)
			}

			inputBytes, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			input, err := document.FromJSON(inputBytes)
			if err != nil {
				return fmt.Errorf("input: %w", err)
			}

			in := interp.Interpreter{Logger: logger}
			res := in.Run(prog, input)
			if res.State == interp.StateFailed {
				return fmt.Errorf("program failed: %w", res.Err)
			}

			output := interp.ProjectOutput(res.Doc, prog.OutputSchema)
			var v any
			if err := json.Unmarshal(output, &v); err != nil {
				return fmt.Errorf("decode output: %w", err)
			}
			b, err := render.JSON(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}

// loadProgram reads a program from disk, accepting both the build artifact
// shape ({"program": {...}}) and a bare program object.
func loadProgram(path string) (*dsl.Program, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	var artifact programArtifact
	if err := json.Unmarshal(b, &artifact); err == nil && artifact.Program != nil {
		return artifact.Program, nil
	}
	prog, perr := dsl.Parse(b)
	if perr != nil {
		return nil, fmt.Errorf("parse program: %w", perr)
	}
	return prog, nil
}
