package app

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envVars are the process-level settings that stay outside the engine
// configuration file.
type envVars struct {
	MetricsAddr string `split_words:"true" default:":9100"`
	LockFile    string `split_words:"true" default:"engine.lock"`
}

func loadEnv() (envVars, error) {
	var env envVars

	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return env, err
	}

	err = envconfig.Process("ENGINE", &env)
	if err != nil {
		return env, err
	}

	return env, nil
}
