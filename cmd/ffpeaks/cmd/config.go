package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/ffpeaks/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to a file to create a configuration template:

  ffpeaks config dump > config.yaml

Environment variables use the FFPEAKS_ prefix and underscores for nesting.
Example: ffmpeg.timeout -> FFPEAKS_FFMPEG_TIMEOUT`,
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return dumpConfig(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and sizes in their human-readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = config.FormatDuration(fv)
		case config.ByteSize:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func dumpConfig(w io.Writer) error {
	defaults, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	data, err := yaml.Marshal(toMap(defaults))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# ffpeaks configuration")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# All values shown below are defaults.")
	fmt.Fprintln(w, "# Duration format: 30s, 5m, 1h, 30d")
	fmt.Fprintln(w, "# Size format: 8KiB, 500MB")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   FFPEAKS_SERVER_HOST, FFPEAKS_SERVER_PORT")
	fmt.Fprintln(w, "#   FFPEAKS_DATABASE_DRIVER, FFPEAKS_DATABASE_DSN")
	fmt.Fprintln(w, "#   FFPEAKS_FFMPEG_BINARY_PATH, FFPEAKS_FFMPEG_TIMEOUT")
	fmt.Fprintln(w, "#   FFPEAKS_PEAKS_SAMPLES_PER_PIXEL")
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}
