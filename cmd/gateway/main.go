package main

import (
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/gateway"
)

func main() {
	gw, err := gateway.NewGateway()
	if err != nil {
		log.Fatal().Err(err).Msg("error creating gateway service")
	}

	if err := gw.Start(); err != nil {
		log.Fatal().Err(err).Msg("gateway exited")
	}
	log.Info().Msg("Gateway stopped")
}
