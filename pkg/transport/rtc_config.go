package transport

import "github.com/pion/webrtc/v4"

// ICEConfig lists the STUN/TURN servers offered to the ICE agent.
type ICEConfig struct {
	STUNServerURLs    []string `mapstructure:"stun_server_urls"`
	TURNServerURLs    []string `mapstructure:"turn_server_urls"`
	TURNUsername      string   `mapstructure:"turn_server_username"`
	TURNPassword      string   `mapstructure:"turn_server_password"`
	CandidatePoolSize uint8    `mapstructure:"candidate_pool_size"`
}

func DefaultICEConfig() ICEConfig {
	return ICEConfig{
		STUNServerURLs:    []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"},
		CandidatePoolSize: 10,
	}
}

func (c ICEConfig) Configuration() webrtc.Configuration {
	config := webrtc.Configuration{ICECandidatePoolSize: c.CandidatePoolSize}

	if len(c.STUNServerURLs) > 0 {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{URLs: c.STUNServerURLs})
	}

	if len(c.TURNServerURLs) > 0 {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{
			URLs:           c.TURNServerURLs,
			Username:       c.TURNUsername,
			Credential:     c.TURNPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}

	return config
}
