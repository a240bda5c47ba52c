package advisor

import (
	"os"
	"strings"
)

// APIKeyVar names the environment variable holding the API key.
const APIKeyVar = "OPENAI_API_KEY"

// APIKey returns the key from the environment, falling back to envFile.
func APIKey(envFile string) (string, error) {
	if v := os.Getenv(APIKeyVar); v != "" {
		return v, nil
	}
	if envFile == "" {
		return "", nil
	}
	vars, err := ParseEnvFile(envFile)
	if err != nil {
		return "", err
	}
	for _, kv := range vars {
		if k, v, ok := strings.Cut(kv, "="); ok && k == APIKeyVar {
			return v, nil
		}
	}
	return "", nil
}

// ParseEnvFile reads KEY=value lines, skipping blanks and comments and
// accepting an optional export prefix and surrounding quotes.
func ParseEnvFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var envVars []string
	for _, line := range strings.Split(string(data), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || s[0] == '#' {
			continue
		}
		s = strings.TrimPrefix(s, "export ")
		eqIdx := strings.IndexByte(s, '=')
		if eqIdx < 0 {
			continue
		}
		key := s[:eqIdx]
		val := stripQuotes(s[eqIdx+1:])
		envVars = append(envVars, key+"="+val)
	}
	return envVars, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
