package main

import (
	"context"
	"fmt"
	"os"

	"github.com/locvowork/task_management_sample/internal/bootstrap"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	envFile := pflag.String("env-file", ".env", "path to an env file loaded before the environment")
	showVersion := pflag.Bool("version", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	ctx := context.Background()

	app := bootstrap.NewApp(*envFile)
	if err := app.Initialize(ctx); err != nil {
		logger.ErrorLog(ctx, fmt.Sprintf("Failed to initialize application: %v", err))
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		logger.ErrorLog(ctx, fmt.Sprintf("Application failed: %v", err))
		os.Exit(1)
	}
}
