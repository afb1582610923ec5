package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Proged2021/Time-card-app-V2/internal/attendance"
	"github.com/Proged2021/Time-card-app-V2/internal/roster"
	"github.com/Proged2021/Time-card-app-V2/internal/store"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	DryRun bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <roster.yaml>",
		Short: "Upsert teachers, students and courses from a roster file",
		Long: `Upsert teachers, students and courses from a roster file.

Passwords in the file are stored as bcrypt hashes. Running the same file
twice leaves the database unchanged.

Example:
  attendctl seed deploy/roster.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd, opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate the file without writing")
	return cmd
}

func seed(cmd *cobra.Command, opts *SeedOptions, path string) error {
	r, err := roster.Load(path)
	if err != nil {
		return err
	}
	if opts.DryRun {
		sum := roster.Summary{Teachers: len(r.Teachers), Students: len(r.Students), Courses: len(r.Courses)}
		return opts.print(cmd.OutOrStdout(), fmt.Sprintf("roster ok: %d teachers, %d students, %d courses", sum.Teachers, sum.Students, sum.Courses), sum)
	}

	cfg, err := opts.config()
	if err != nil {
		return err
	}
	db, err := store.NewDB(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	sum, err := r.Apply(cmd.Context(), attendance.NewRepository(db.Client))
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	return opts.print(cmd.OutOrStdout(), fmt.Sprintf("seeded %d teachers, %d students, %d courses", sum.Teachers, sum.Students, sum.Courses), sum)
}
