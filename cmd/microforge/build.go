package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/microforge/internal/agents"
	"github.com/dshills/microforge/internal/profile"
	"github.com/dshills/microforge/internal/render"
	"github.com/dshills/microforge/internal/repair"
)

// newBuildCmd builds the `microforge build` subcommand: run the full
// architect → developer → QA → test/fix pipeline for one request.
func newBuildCmd() *cobra.Command {
	var (
		providerName string
		model        string
		maxAttempts  int
		callTimeout  time.Duration
		parallel     int
		profileName  string
		requestFile  string
		outPath      string
	)

	cmd := &cobra.Command{
		Use:   "build [request...]",
		Short: "Build a verified logic program from a natural-language request",
		RunE: func(cmd *cobra.Command, args []string) error {
			request := strings.TrimSpace(strings.Join(args, " "))
			if requestFile != "" {
				b, err := os.ReadFile(requestFile)
				if err != nil {
					return fmt.Errorf("read request file: %w", err)
				}
				request = strings.TrimSpace(string(b))
			}
			if request == "" {
				return fmt.Errorf("no request given; pass it as arguments or via --request-file")
			}

			prof, err := profile.Load(viper.GetString(keyProfile))
			if err != nil {
				return err
			}

			swarm, err := agents.NewSwarm(agents.Options{
				Provider:    viper.GetString(keyProvider),
				Model:       viper.GetString(keyModel),
				Temperature: 0.2,
				Profile:     prof,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			engine := &repair.Engine{
				Architect:   swarm,
				Developer:   swarm,
				QA:          swarm,
				Fixer:       swarm,
				MaxAttempts: viper.GetInt(keyMaxAttempts),
				CallTimeout: viper.GetDuration(keyCallTimeout),
				Parallel:    viper.GetInt(keyParallel),
				Logger:      logger,
			}

			result, err := engine.Run(cmd.Context(), request)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), render.Markdown(result))

			if result.Status != repair.StatusDeployed {
				return fmt.Errorf("program abandoned after %d repair attempts", result.Attempts)
			}

			artifact, err := render.JSON(struct {
				Program any `json:"program"`
				Cases   any `json:"cases"`
			}{result.Program, result.Cases})
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, artifact, 0o644); err != nil {
				return fmt.Errorf("write program artifact: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Program written to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&providerName, keyProvider, viper.GetString(keyProvider), "model provider (anthropic, openai, google)")
	cmd.Flags().StringVar(&model, keyModel, viper.GetString(keyModel), "model name")
	cmd.Flags().IntVar(&maxAttempts, keyMaxAttempts, viper.GetInt(keyMaxAttempts), "maximum repair attempts before abandoning")
	cmd.Flags().DurationVar(&callTimeout, keyCallTimeout, viper.GetDuration(keyCallTimeout), "per-collaborator-call timeout")
	cmd.Flags().IntVar(&parallel, keyParallel, viper.GetInt(keyParallel), "concurrent test case runs")
	cmd.Flags().StringVar(&profileName, keyProfile, viper.GetString(keyProfile), "generation profile (general, finance, analytics, reporting)")
	cmd.Flags().StringVar(&requestFile, "request-file", "", "read the request from a file instead of arguments")
	cmd.Flags().StringVarP(&outPath, "out", "o", "program.json", "path for the deployed program artifact")

	bindFlag(cmd.Flags().Lookup(keyProvider), keyProvider)
	bindFlag(cmd.Flags().Lookup(keyModel), keyModel)
	bindFlag(cmd.Flags().Lookup(keyMaxAttempts), keyMaxAttempts)
	bindFlag(cmd.Flags().Lookup(keyCallTimeout), keyCallTimeout)
	bindFlag(cmd.Flags().Lookup(keyParallel), keyParallel)
	bindFlag(cmd.Flags().Lookup(keyProfile), keyProfile)

	return cmd
}
