package env

import "os"

// Get returns the value of key, or fallback when it is unset or empty.
func Get(key string, fallback string) string {
	if res := os.Getenv(key); len(res) > 0 {
		return res
	}
	return fallback
}

// Name is the deployment environment used to pick a config file.
func Name() string {
	return Get("ENV", "local")
}
