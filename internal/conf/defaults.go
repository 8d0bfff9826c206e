package conf

import "github.com/spf13/viper"

// setDefaultConfig sets viper defaults for every configuration parameter.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "WorldCafe")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/world-cafe.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	// Web server
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.log.enabled", true)
	viper.SetDefault("webserver.log.path", "logs/webserver.log")

	// Output
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "world-cafe.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "worldcafe")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "worldcafe")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	// Speech provider
	viper.SetDefault("speech.provider", "deepgram")
	viper.SetDefault("speech.url", "wss://api.deepgram.com/v1/listen")
	viper.SetDefault("speech.batchurl", "https://api.deepgram.com/v1/listen")
	viper.SetDefault("speech.apikey", "")
	viper.SetDefault("speech.language", "en")
	viper.SetDefault("speech.samplerate", 16000)
	viper.SetDefault("speech.channels", 1)
	viper.SetDefault("speech.minconfidence", 0.0)
	viper.SetDefault("speech.reconnectdelay", "2s")

	// Session defaults
	viper.SetDefault("session.defaulttablecount", 10)
	viper.SetDefault("session.defaultmaxsize", 5)
	viper.SetDefault("session.defaultlanguage", "en")

	// Realtime broadcast
	viper.SetDefault("realtime.subscriberbuffer", 64)
	viper.SetDefault("realtime.heartbeatseconds", 30)
	viper.SetDefault("realtime.previewratelimit", 10)
	viper.SetDefault("realtime.shutdowntimeoutms", 5000)

	// Sentry telemetry (opt-in)
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.debug", false)
}
