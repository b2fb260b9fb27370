// config.go: settings struct and functions to load and save leafnet-go configuration.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ModelSettings contains settings for the classification model and its
// fixed preprocessing pipeline.
type ModelSettings struct {
	Path      string     // path to the frozen TFLite model artifact
	InputSize int        // square spatial resolution fed to the model
	Mean      [3]float64 // per-channel normalization mean
	Std       [3]float64 // per-channel normalization standard deviation
	Threads   int        // interpreter thread count, 0 for all CPUs
}

// SchedulerSettings contains settings for the periodic diagnosis sweep.
type SchedulerSettings struct {
	Interval         time.Duration // time between sweep ticks
	BatchSize        int           // records per inference batch
	DiagnoseOnUpload bool          // classify synchronously at upload time
}

// UploadSettings contains settings for the upload collaborator.
type UploadSettings struct {
	Path string // directory where uploaded images are stored
}

// SQLiteSettings contains SQLite database settings.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains MySQL database settings.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     int
}

// OutputSettings selects and configures the datastore backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// WebServerSettings contains settings for the HTTP collaborator surface.
type WebServerSettings struct {
	Enabled bool
	Port    string
}

// AnalyticsSettings contains settings for the agreement analytics component.
type AnalyticsSettings struct {
	ReportCacheTTL time.Duration // how long a computed agreement report is reused
}

// Settings is the root of the leafnet-go configuration tree.
type Settings struct {
	Debug bool

	Model     ModelSettings
	Scheduler SchedulerSettings
	Upload    UploadSettings
	Output    OutputSettings
	WebServer WebServerSettings
	Analytics AnalyticsSettings
}

// Load reads the configuration file and environment into a Settings struct.
func Load() (*Settings, error) {
	setDefaultConfig()

	viper.SetConfigName("leafnet")
	viper.SetConfigType("yaml")
	for _, path := range configPaths() {
		viper.AddConfigPath(path)
	}
	viper.SetEnvPrefix("LEAFNET")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine, defaults and env vars apply.
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings writes the current settings as YAML to the given path.
func SaveSettings(settings *Settings, path string) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// configPaths returns the directories searched for the configuration file,
// in priority order.
func configPaths() []string {
	paths := []string{"."}
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "leafnet-go"))
	}
	paths = append(paths, "/etc/leafnet-go")
	return paths
}

func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}
