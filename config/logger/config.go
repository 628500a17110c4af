package logger

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var (
	LogLevels     = []string{"debug", "info", "warning", "error", "fatal"}
	LogFormats    = []string{"human", "logfmt", "json"}
	LogTimestamps = []string{"short", "disable", "full"}
	LogOutputs    = []string{"stderr", "stdout", "discard"}
)

// Config configures logging
type Config struct {
	Level     string `yaml:"level"`     // One of LogLevels
	Format    string `yaml:"format"`    // One of LogFormats
	Timestamp string `yaml:"timestamp"` // One of LogTimestamps

	// Output is one of LogOutputs. Hosts that embed the agent can set it
	// to "discard" to keep agent logs out of their own output.
	Output string `yaml:"output"`

	// Fields are added to every agent log entry, for example to tell
	// agents of different services apart in a shared log stream.
	Fields map[string]string `yaml:"fields"`
}

// DefaultConfig defines the default configuration
var DefaultConfig = Config{
	Level:     "warning",
	Format:    "human",
	Timestamp: "short",
	Output:    "stderr",
}

// FlagConfig captures flag values and defaults to zero values
var FlagConfig = Config{}

// RegisterFlags registers several log flags.
// The default values are set to their zero value to allow detecting when
// the flag has been set. This allows the use of a config file for logging
// and overriding it with these flags.
func RegisterFlags() {
	RegisterFlagsWith(flag.StringVar)
}

// StringVarFlagFunc has the signature of flag.StringVar
type StringVarFlagFunc func(*string, string, string, string)

// RegisterFlagsWith uses a specific function to register the flags with,
// allowing it to be used with different flag packages, like Cobra.
func RegisterFlagsWith(stringVar StringVarFlagFunc) {
	stringVar(&FlagConfig.Level, "log-level", "", "Log level "+
		addDefaults(DefaultConfig.Level, LogLevels))
	stringVar(&FlagConfig.Format, "log-format", "", "Log format "+
		addDefaults(DefaultConfig.Format, LogFormats))
	stringVar(&FlagConfig.Timestamp, "log-timestamp", "", "Log timestamp "+
		addDefaults(DefaultConfig.Timestamp, LogTimestamps))
	stringVar(&FlagConfig.Output, "log-output", "", "Log output "+
		addDefaults(DefaultConfig.Output, LogOutputs))
}

// Check validates a Config instance
func (c Config) Check() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("log.level: must be one of: %s", strings.Join(LogLevels, ", "))
	}
	if !inList(LogFormats, c.Format) {
		return fmt.Errorf("log.format: must be one of: %s", strings.Join(LogFormats, ", "))
	}
	if c.Timestamp != "" {
		if !inList(LogTimestamps, c.Timestamp) {
			return fmt.Errorf("log.timestamp: must be one of: %s", strings.Join(LogTimestamps, ", "))
		}
	}
	if c.Output != "" && !inList(LogOutputs, c.Output) {
		return fmt.Errorf("log.output: must be one of: %s", strings.Join(LogOutputs, ", "))
	}
	for k := range c.Fields {
		if k == "" || k == "component" {
			return fmt.Errorf("log.fields: invalid field name %q", k)
		}
	}
	return nil
}

// Merge merges a Config with another Config, returning the new combined Config.
// This is useful for merging in values set by flags.
func (c Config) Merge(o Config) Config {
	if o.Level != "" {
		c.Level = o.Level
	}
	if o.Format != "" {
		c.Format = o.Format
	}
	if o.Timestamp != "" {
		c.Timestamp = o.Timestamp
	}
	if o.Output != "" {
		c.Output = o.Output
	}
	if len(o.Fields) > 0 {
		c.Fields = lo.Assign(c.Fields, o.Fields)
	}
	return c
}

// Configure configures the standard logrus logger according to Config
func Configure(c Config) {
	ConfigureLogger(logrus.StandardLogger(), c)
}

// ConfigureLogger configures a specific logrus Logger, for hosts that do
// not want the agent to touch their standard logger.
// Fields are added with a hook, so it must be called only once per Logger.
func ConfigureLogger(l *logrus.Logger, c Config) {
	if w := output(c.Output); w != nil {
		l.SetOutput(w)
	}
	if len(c.Fields) > 0 {
		l.AddHook(&fieldsHook{fields: c.Fields})
	}

	noTimestamp := c.Timestamp == "disable"
	fullTimestamp := c.Timestamp == "full"

	var formatter logrus.Formatter
	switch c.Format {
	case "json":
		formatter = &logrus.JSONFormatter{DisableTimestamp: noTimestamp}
	case "logfmt":
		formatter = &logrus.TextFormatter{
			DisableColors:    true, // this sets logfmt
			DisableTimestamp: noTimestamp,
			FullTimestamp:    fullTimestamp,
		}
	case "human":
		formatter = &ComponentFormatter{
			Parent: &logrus.TextFormatter{
				DisableColors:    false,
				DisableTimestamp: noTimestamp,
				FullTimestamp:    fullTimestamp,
			},
		}
	}
	if formatter != nil {
		l.SetFormatter(formatter)
	}

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		// Should have been validated before calling this
		l.Warnf("Ignoring invalid log level: %s", c.Level)
	} else {
		l.SetLevel(level)
	}
}

func output(name string) io.Writer {
	switch name {
	case "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	}
	return nil
}

// fieldsHook adds static fields to every entry. Fields set on the entry
// itself take precedence.
type fieldsHook struct {
	fields map[string]string
}

func (h *fieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fieldsHook) Fire(e *logrus.Entry) error {
	for k, v := range h.fields {
		if _, exists := e.Data[k]; !exists {
			e.Data[k] = v
		}
	}
	return nil
}

func addDefaults(def string, options []string) string {
	return fmt.Sprintf("(default: %s; options: %s)", def, strings.Join(options, ", "))
}

func inList(list []string, item string) bool {
	return lo.Contains(list, item)
}
