package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/chatgate/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the chatgate configuration for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with non-default values highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	var unknownKeys []string
	if configPath != "" {
		unknownKeys, err = findUnknownKeys(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
		}
	}

	source := configPath
	if source == "" {
		source = "(defaults and environment)"
	}
	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", source)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults())

		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// findUnknownKeys loads the config file and returns keys chatgate does not recognise
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	valid := make(map[string]bool)
	for _, key := range config.KnownKeys() {
		valid[key] = true
	}

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// dumpConfig prints every section, one field per line
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	sections := []struct {
		name    string
		value   interface{}
		initial interface{}
	}{
		{"server", cfg.Server, defaultCfg.Server},
		{"session", cfg.Session, defaultCfg.Session},
		{"usage", cfg.Usage, defaultCfg.Usage},
		{"rate_limit", cfg.RateLimit, defaultCfg.RateLimit},
		{"storage", cfg.Storage, defaultCfg.Storage},
		{"upstream", cfg.Upstream, defaultCfg.Upstream},
		{"chat", cfg.Chat, defaultCfg.Chat},
		{"admin", cfg.Admin, defaultCfg.Admin},
		{"logging", cfg.Logging, defaultCfg.Logging},
	}

	for _, s := range sections {
		_, _ = cyan.Printf("\n[%s]\n", s.name)
		dumpStruct("  ", reflect.ValueOf(s.value), reflect.ValueOf(s.initial), yellow, green, cyan)
	}
}

// dumpStruct walks a config section using its mapstructure tags
func dumpStruct(indent string, value, initial reflect.Value, modified, unchanged, header *color.Color) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if name == "" {
			name = strings.ToLower(field.Name)
		}

		fv := value.Field(i)
		dv := initial.Field(i)

		if fv.Kind() == reflect.Struct {
			_, _ = header.Printf("%s[%s]\n", indent, name)
			dumpStruct(indent+"  ", fv, dv, modified, unchanged, header)
			continue
		}

		current, def := fv.Interface(), dv.Interface()
		if isSecret(name) {
			current, def = redactSecret(current), redactSecret(def)
		}
		dumpField(indent+name, current, def, modified, unchanged)
	}
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

func isSecret(name string) bool {
	return name == "password" || name == "api_key" || name == "token"
}

// redactSecret redacts a secret if not empty
func redactSecret(v interface{}) interface{} {
	if s, ok := v.(string); ok && s != "" {
		return "***REDACTED***"
	}
	return v
}
