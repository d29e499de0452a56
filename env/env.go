package env

import (
	"log"
	"os"
	"strings"

	"github.com/agentuity/escaperoom/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Prefix is prepended to every environment variable the server reads.
const Prefix = "ESCAPEROOM_"

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses a dotenv file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return []EnvLine{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", filename)
	}
	return ParseEnvBuffer(buf), nil
}

// ParseEnvBuffer parses dotenv content. Blank lines and # comments are
// skipped, an "export " prefix is ignored and values may be single or double
// quoted. ${NAME} and ${NAME:-default} are expanded from earlier lines, then
// from the process environment.
func ParseEnvBuffer(buf []byte) []EnvLine {
	lines := []EnvLine{}
	seen := make(map[string]string)
	for _, raw := range strings.Split(string(buf), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = strings.TrimSpace(val)
		quoted := len(val) >= 2 && val[0] == '\'' && val[len(val)-1] == '\''
		val = dequote(val)
		if !quoted {
			val = expand(val, seen)
		}
		seen[key] = val
		lines = append(lines, EnvLine{Key: key, Val: val})
	}
	return lines
}

func dequote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// expand replaces ${NAME} and ${NAME:-default}. Unknown names without a
// default are left as written.
func expand(val string, vars map[string]string) string {
	var out strings.Builder
	for {
		start := strings.Index(val, "${")
		if start == -1 {
			out.WriteString(val)
			return out.String()
		}
		end := strings.Index(val[start:], "}")
		if end == -1 {
			out.WriteString(val)
			return out.String()
		}
		end += start
		out.WriteString(val[:start])
		name, def, hasDefault := strings.Cut(val[start+2:end], ":-")
		if v, ok := vars[name]; ok && v != "" {
			out.WriteString(v)
		} else if v := os.Getenv(name); v != "" {
			out.WriteString(v)
		} else if hasDefault {
			out.WriteString(def)
		} else {
			out.WriteString(val[start : end+1])
		}
		val = val[end+1:]
	}
}

// Load reads a dotenv file into the process environment. Variables that are
// already set win over the file.
func Load(filename string) error {
	lines, err := ParseEnvFile(filename)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if _, ok := os.LookupEnv(l.Key); ok {
			continue
		}
		if err := os.Setenv(l.Key, l.Val); err != nil {
			return errors.Wrapf(err, "set %s", l.Key)
		}
	}
	return nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
		return f.Value.String()
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	if f := cmd.Flags().Lookup(flagName); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	return defaultValue
}

// LogLevel resolves the --log-level flag, then ESCAPEROOM_LOG_LEVEL, then info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.LevelEnv, "info"), logger.LevelInfo)
}

// NewLogger returns a logger honouring the log-level and log-format flags
// and their ESCAPEROOM_ environment variables.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	format := FlagOrEnv(cmd, "log-format", Prefix+"LOG_FORMAT", "console")
	return logger.New(format, LogLevel(cmd))
}
