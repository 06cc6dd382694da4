package conf

import "github.com/spf13/viper"

// setDefaultConfig seeds viper with every setting's fallback value so a
// freshly generated config.yaml and a config-file-less environment behave
// identically.
func setDefaultConfig() {
	viper.SetDefault("main.name", "transcribe-master")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/master.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 10*1024*1024)

	viper.SetDefault("storage.uploaddir", "data/uploads")
	viper.SetDefault("storage.chunkdir", "data/chunks")

	viper.SetDefault("splitter.minlengthms", 30000)
	viper.SetDefault("splitter.silencelenms", 700)
	viper.SetDefault("splitter.silencethreshdb", 0.0)
	viper.SetDefault("splitter.mergegapms", 3000)
	viper.SetDefault("splitter.paddingms", 500)
	viper.SetDefault("splitter.fallbacktilems", 60000)

	viper.SetDefault("dispatcher.workers", []string{})
	viper.SetDefault("dispatcher.probeshortchunkthreshsec", 40.0)
	viper.SetDefault("dispatcher.requesttimeoutsec", 14400)
	viper.SetDefault("dispatcher.healthchecktimeoutsec", 2)

	viper.SetDefault("orchestrator.maxparallelchunks", 0)

	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.natsurl", "nats://127.0.0.1:4222")
	viper.SetDefault("store.workerttlsec", 300)
	viper.SetDefault("store.jobttlsec", 3600)
	viper.SetDefault("store.preferencettlsec", 86400)

	viper.SetDefault("webserver.host", "0.0.0.0")
	viper.SetDefault("webserver.port", "8090")
	viper.SetDefault("webserver.log.enabled", true)
	viper.SetDefault("webserver.log.path", "logs/web.log")
	viper.SetDefault("webserver.log.rotation", RotationDaily)
	viper.SetDefault("webserver.log.maxsize", 10*1024*1024)
}
