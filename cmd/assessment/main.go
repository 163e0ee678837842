package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/assessment/internal/profile"
	"github.com/hrygo/assessment/internal/version"
	"github.com/hrygo/assessment/plugin/assessment/module"
	"github.com/hrygo/assessment/plugin/assessment/workflow"
	"github.com/hrygo/assessment/server"
	"github.com/hrygo/assessment/store"
	"github.com/hrygo/assessment/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "assessment",
		Short: "A multi-stage clinical intake assessment service.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			storeInstance, err := openStore(cmd.Context(), instanceProfile)
			if err != nil {
				return err
			}
			defer storeInstance.Close()
			slog.Info("migration completed", slog.String("version", instanceProfile.Version))
			return nil
		},
	}

	workflowCmd = &cobra.Command{
		Use:   "workflow",
		Short: "Inspect workflow definitions.",
	}

	workflowValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Load and build a workflow definition. Without a file the embedded standard workflow is checked.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			def, err := workflow.Load(path)
			if err != nil {
				return err
			}
			reg := module.NewRegistry()
			module.RegisterBuiltins(reg)
			pipeline, err := def.Build(reg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "workflow %s (%s) is valid\n", def.ID, def.Version)
			for i, id := range pipeline.Sequence {
				m, _ := pipeline.Module(id)
				fmt.Fprintf(out, "%d. %s [%s]\n", i+1, id, m.Info().Kind)
			}
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("workflow", "", "workflow definition file, empty uses the embedded standard workflow")
	rootCmd.PersistentFlags().String("admin-key", "", "API key for admin routes, empty disables them")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "workflow", "admin-key"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("assessment")
	viper.AutomaticEnv()
	if err := viper.BindEnv("admin-key", "ASSESSMENT_ADMIN_KEY"); err != nil {
		panic(err)
	}

	workflowCmd.AddCommand(workflowValidateCmd)
	rootCmd.AddCommand(migrateCmd, workflowCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:         viper.GetString("mode"),
		Addr:         viper.GetString("addr"),
		Port:         viper.GetInt("port"),
		Data:         viper.GetString("data"),
		Driver:       viper.GetString("driver"),
		DSN:          viper.GetString("dsn"),
		WorkflowFile: viper.GetString("workflow"),
		AdminKey:     viper.GetString("admin-key"),
	}
	instanceProfile.FromEnv()
	instanceProfile.Version = version.GetCurrentVersion(instanceProfile.Mode)
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to create db driver: %w", err)
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return storeInstance, nil
}

func serve(ctx context.Context) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		return err
	}
	s, err := server.NewServer(instanceProfile, storeInstance)
	if err != nil {
		_ = storeInstance.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	printGreetings(instanceProfile)
	return s.Start(ctx)
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Assessment %s started successfully!\n", p.Version)
	fmt.Printf("Mode: %s, driver: %s\n", p.Mode, p.Driver)
	if p.Addr == "" {
		fmt.Printf("Listening on port %d\n", p.Port)
	} else {
		fmt.Printf("Listening on %s:%d\n", p.Addr, p.Port)
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("assessment exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
