package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MongoUrl string `envconfig:"MONGO_URL"`
	DbName   string `envconfig:"IA_DBNAME" default:"access"`
	Issuer   string `envconfig:"IA_ISSUER" default:"DEFAULT"`
	HashAlg  string `envconfig:"IA_HASH_ALG" default:"sha256"`
	BaseUrl  string `envconfig:"IA_BASE_URL"`
	Port     string `envconfig:"PORT" default:"8080"`
}

func GetEnvConfig() Config {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		log.Println("Error occurred reading configuration: " + err.Error())
		return Config{}
	}
	return cfg
}
