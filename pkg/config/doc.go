// Package config holds configuration structs for the device resolution engine.
//
// Each concern gets its own struct with cleanenv env tags; the embedding
// application composes them into one Config and calls cleanenv.ReadEnv.
//
//	type Config struct {
//		Store    config.StoreConfig
//		Database config.DatabaseConfig
//		Resolver config.ResolverConfig
//	}
//
//	cfg := Config{}
//	cleanenv.ReadEnv(&cfg)
package config
