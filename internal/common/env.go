package common

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadDotEnv loads variables from a .env file into the process environment.
// Format supported:
//   - KEY=value
//   - export KEY=value
//   - KEY="value" or KEY='value' (quotes stripped)
//   - # comments (lines starting with #)
//
// Variables already present in the environment win unless override is set.
// A missing file is not an error. Returns the number of variables set.
func LoadDotEnv(filePath string, override bool) (int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open env file %s: %w", filePath, err)
	}
	defer file.Close()

	loaded := 0
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return loaded, fmt.Errorf("%s:%d: invalid line format, expected KEY=value", filePath, lineNum)
		}

		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := unquote(strings.TrimSpace(parts[1]))

		if _, exists := os.LookupEnv(key); exists && !override {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return loaded, fmt.Errorf("failed to set %s: %w", key, err)
		}
		loaded++
	}

	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("failed to read env file %s: %w", filePath, err)
	}

	return loaded, nil
}

// unquote strips matching surrounding quotes, or a trailing " # comment"
// from an unquoted value.
func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	if i := strings.Index(value, " #"); i >= 0 {
		return strings.TrimSpace(value[:i])
	}
	return value
}
