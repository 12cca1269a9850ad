// Package config loads typed configuration structs from environment variables
// and optional dotenv files using github.com/caarlos0/env and
// github.com/joho/godotenv.
//
// Every component owns its configuration struct (stripebilling.Config,
// redis.Config, httpserver.Config) and the CLI loads them with Load or
// MustLoad right before wiring the component.
package config
