package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thalcare-ai/platform/pkg/common/config"
	"github.com/thalcare-ai/platform/pkg/common/database"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/storage"
	"github.com/thalcare-ai/platform/pkg/synthetic"
	"github.com/thalcare-ai/platform/pkg/thalml"
	"github.com/thalcare-ai/platform/pkg/training"
)

func main() {
	logger.Init()

	rootCmd := &cobra.Command{
		Use:   "thalctl",
		Short: "Thalassemia transfusion model administration",
	}

	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withManager runs fn against a freshly bootstrapped manager.
func withManager(fn func(ctx context.Context, m *training.Manager) error) error {
	ctx := context.Background()
	rt, err := thalml.Bootstrap(ctx, config.Load())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Manager)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a new model and store the artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			patients, _ := cmd.Flags().GetInt("patients")
			donors, _ := cmd.Flags().GetInt("donors")
			seed, _ := cmd.Flags().GetInt64("seed")

			return withManager(func(ctx context.Context, m *training.Manager) error {
				var (
					report training.Report
					err    error
				)
				if patients > 0 || donors > 0 {
					opts := synthetic.DefaultOptions()
					opts.Seed = seed
					if patients > 0 {
						opts.Patients = patients
					}
					if donors > 0 {
						opts.Donors = donors
					}
					if err := opts.Validate(); err != nil {
						return err
					}
					report, err = m.TrainFrom(ctx, synthetic.NewSource(opts))
				} else {
					report, err = m.Train(ctx)
				}
				if err != nil {
					return fmt.Errorf("training failed: %w", err)
				}
				return printJSON(report)
			})
		},
	}
	cmd.Flags().Int("patients", 0, "Train on a synthetic cohort of this many patients")
	cmd.Flags().Int("donors", 0, "Synthetic donor pool size")
	cmd.Flags().Int64("seed", 42, "Synthetic generator seed")
	return cmd
}

func predictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict <patient-id>",
		Short: "Forecast the next transfusion for a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, m *training.Manager) error {
				forecast, err := m.PredictForPatient(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(forecast)
			})
		},
	}
}

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <patient-id>",
		Short: "Rank eligible donors for a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bloodType, _ := cmd.Flags().GetString("blood-type")
			top, _ := cmd.Flags().GetInt("top")

			return withManager(func(ctx context.Context, m *training.Manager) error {
				report, err := m.MatchDonors(ctx, args[0], bloodType, top)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	cmd.Flags().String("blood-type", "", "Recipient blood type; defaults to the patient's")
	cmd.Flags().Int("top", 5, "Number of donors to return")
	return cmd
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts [patient-id...]",
		Short: "Run the alert batch for the given patients or the default cohort",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			return withManager(func(ctx context.Context, m *training.Manager) error {
				if len(args) > 0 {
					batch, err := m.RunBatchAlerts(ctx, args)
					if err != nil {
						return err
					}
					return printJSON(batch)
				}
				batch, err := m.DailyAlerts(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(batch)
			})
		},
	}
	cmd.Flags().Int("limit", 0, "Patients to evaluate when none are named; zero uses THAL_ALERT_LIMIT")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a synthetic cohort into PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			patients, _ := cmd.Flags().GetInt("patients")
			donors, _ := cmd.Flags().GetInt("donors")
			seed, _ := cmd.Flags().GetInt64("seed")

			opts := synthetic.Options{Patients: patients, Donors: donors, Seed: seed}
			if err := opts.Validate(); err != nil {
				return err
			}

			db, err := database.OpenPostgres(config.Load())
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			repo := storage.NewRepository(db)
			if err := repo.AutoMigrate(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			snap := synthetic.Generate(opts)
			if err := repo.Seed(context.Background(), snap); err != nil {
				return err
			}
			fmt.Printf("Seeded %d patients, %d donors and %d transfusions.\n",
				len(snap.Patients), len(snap.Donors), len(snap.Transfusions))
			return nil
		},
	}
	cmd.Flags().Int("patients", 80, "Patients to generate")
	cmd.Flags().Int("donors", 300, "Donors to generate")
	cmd.Flags().Int64("seed", 42, "Generator seed")
	return cmd
}
