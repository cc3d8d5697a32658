package main

import (
	"flag"
	"os"

	"github.com/danmuck/monproto/internal/config"
	"github.com/danmuck/monproto/internal/logging"
)

const defaultPath = "cmd/monctl/config.toml"

func main() {
	mode := flag.String("mode", config.ModeConnect, "template mode: connect|accept")
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()
	log := logging.Component("configgen")

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Error().Err(err).Str("path", *input).Msg("config invalid")
			os.Exit(1)
		}
		log.Info().Str("path", *input).Str("mode", cfg.Mode).Str("transport", cfg.Transport).Msg("config valid")
		return
	}

	if err := config.WriteTemplate(*output, *mode, *force); err != nil {
		log.Error().Err(err).Msg("write template failed")
		os.Exit(1)
	}
	log.Info().Str("path", *output).Str("mode", *mode).Msg("wrote config template")
}
