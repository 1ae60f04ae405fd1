package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/watzon/hookd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("hookd failed")
		os.Exit(1)
	}
}
