package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/arenalabs/rally"
)

func main() {
	app, err := rally.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to build rally")
		os.Exit(1)
	}
	if err := app.Start(); err != nil {
		log.Error().Err(err).Msg("rally exited with an error")
		os.Exit(1)
	}
}
