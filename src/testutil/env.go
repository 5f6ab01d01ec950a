package testutil

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/ethaccount/aawallet/src/utils"
)

// GetEnv reads key after loading the project .env, if there is one.
func GetEnv(key string) string {
	_ = godotenv.Load(utils.ProjectPath(".env"))
	return os.Getenv(key)
}
