package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"

	"recipestock/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides CONFIG_PATH)")
	flag.Parse()

	if *configPath != "" {
		if err := os.Setenv("CONFIG_PATH", *configPath); err != nil {
			stdlog.Fatalf("Failed to set CONFIG_PATH: %v", err)
		}
	}

	if err := run(context.Background()); err != nil {
		stdlog.Fatalf("Application failed: %v", err)
	}
}

func run(ctx context.Context) error {
	application, err := app.NewApplication(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	return application.Run()
}
