package main

import (
	"github.com/tubegraph/backend/internal/server"
	"github.com/tubegraph/backend/internal/util"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	server.Init()
}
