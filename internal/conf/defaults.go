// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("model.path", "model/leafnet_v1_fp32.tflite")
	viper.SetDefault("model.inputsize", 224)
	viper.SetDefault("model.mean", []float64{0.485, 0.456, 0.406})
	viper.SetDefault("model.std", []float64{0.229, 0.224, 0.225})
	viper.SetDefault("model.threads", 0)

	viper.SetDefault("scheduler.interval", time.Hour)
	viper.SetDefault("scheduler.batchsize", 12)
	viper.SetDefault("scheduler.diagnoseonupload", false)

	viper.SetDefault("upload.path", "uploads/")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "leafnet.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "leafnet")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "leafnet")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", 3306)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")

	viper.SetDefault("analytics.reportcachettl", time.Minute)
}
