package config

import (
	"bufio"
	"os"
	"slices"
	"strings"
)

// Environment variables that override config values. Secrets belong here
// rather than in the YAML file.
const (
	EnvTelegramToken  = "BP_TELEGRAM_TOKEN"
	EnvTelegramChatID = "BP_TELEGRAM_CHAT_ID"
	EnvTimescaleDSN   = "BP_TIMESCALE_DSN"
	EnvKafkaBrokers   = "BP_KAFKA_BROKERS"
)

var envKeys = []string{EnvTelegramToken, EnvTelegramChatID, EnvTimescaleDSN, EnvKafkaBrokers}

// LoadEnv exports the override variables found in a .env file. Other keys
// are ignored and variables already set in the process win. A missing file
// is not an error.
func LoadEnv(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, val, ok := parseEnvLine(scanner.Text())
		if !ok || !slices.Contains(envKeys, key) {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// parseEnvLine accepts KEY=value, optionally prefixed by "export" and with
// the value in single or double quotes.
func parseEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	val = strings.TrimSpace(val)
	if n := len(val); n >= 2 && (val[0] == '"' || val[0] == '\'') && val[n-1] == val[0] {
		val = val[1 : n-1]
	}
	return key, val, key != ""
}
