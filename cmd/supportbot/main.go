package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/m3rciful/supportbot/bot"
	"github.com/m3rciful/supportbot/core/buildinfo"
	corecmd "github.com/m3rciful/supportbot/core/cmd"
)

func main() {
	showVersion := flag.Bool("version", false, "print build info and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("supportbot %s (%s %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig:        bot.LoadConfig,
		Bootstrap:         bot.Bootstrap,
	})
	if err != nil {
		log.Fatalf("supportbot: %v", err)
	}
}
