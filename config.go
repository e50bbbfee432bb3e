package firecall

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// Config is what the firecall binary needs to run a call. Every key can come from a flag, an env
// var (dots become underscores, so firebase.project_id is FIREBASE_PROJECT_ID) or a .env file.
type Config struct {
	Collection string               `mapstructure:"collection"`
	Store      string               `mapstructure:"store"`
	StatusAddr string               `mapstructure:"status_addr"`
	LogLevel   string               `mapstructure:"log_level"`
	Video      string               `mapstructure:"video"`
	LowLatency bool                 `mapstructure:"low_latency"`
	ICE        transport.ICEConfig  `mapstructure:"ice"`
	Firebase   store.FirebaseConfig `mapstructure:"firebase"`
}

var firebaseKeys = []string{
	"type", "project_id", "private_key_id", "private_key", "client_email", "client_id",
	"auth_uri", "token_uri", "auth_provider_x509_cert_url", "client_x509_cert_url", "universe_domain",
}

// RegisterFlags adds the flags LoadConfig understands to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("collection", DefaultCollection, "root collection of session records")
	flags.String("store", StoreFirestore, "signaling store backend (firestore|memory)")
	flags.String("status-addr", "", "address of the status http server, empty to disable")
	flags.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	flags.StringSlice("stun", nil, "STUN server urls, replacing the defaults")
	flags.String("video", "", "also negotiate a video track (h264|vp8), empty for audio only")
	flags.Bool("low-latency", false, "tune NACK, TWCC and RTCP report intervals for low latency")
}

// LoadConfig reads a .env file if there is one, then environment and flags. flags may be nil.
func LoadConfig(flags *pflag.FlagSet) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	ice := transport.DefaultICEConfig()
	v.SetDefault("collection", DefaultCollection)
	v.SetDefault("store", StoreFirestore)
	v.SetDefault("status_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("video", "")
	v.SetDefault("low_latency", false)
	v.SetDefault("ice.stun_server_urls", ice.STUNServerURLs)
	v.SetDefault("ice.turn_server_urls", ice.TURNServerURLs)
	v.SetDefault("ice.turn_server_username", "")
	v.SetDefault("ice.turn_server_password", "")
	v.SetDefault("ice.candidate_pool_size", ice.CandidatePoolSize)
	for _, key := range firebaseKeys {
		v.SetDefault("firebase."+key, "")
	}

	if flags != nil {
		for key, name := range map[string]string{
			"collection":           "collection",
			"store":                "store",
			"status_addr":          "status-addr",
			"log_level":            "log-level",
			"video":                "video",
			"low_latency":          "low-latency",
			"ice.stun_server_urls": "stun",
		} {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("error while binding flag %s: %w", name, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, config.validate()
}

func (c Config) validate() error {
	if c.Collection == "" {
		return errors.New("collection cannot be empty")
	}
	switch c.Store {
	case StoreFirestore, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Video {
	case "", transport.VideoCodecH264, transport.VideoCodecVP8:
	default:
		return fmt.Errorf("unknown video codec %q", c.Video)
	}
	return nil
}
