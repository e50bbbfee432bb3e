package store

import (
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/api/option"
)

// FirebaseConfig is a service-account credential, laid out the way the JSON key file is.
type FirebaseConfig struct {
	Type                    string `json:"type" mapstructure:"type"`
	ProjectID               string `json:"project_id" mapstructure:"project_id"`
	PrivateKeyID            string `json:"private_key_id" mapstructure:"private_key_id"`
	PrivateKey              string `json:"private_key" mapstructure:"private_key"`
	ClientEmail             string `json:"client_email" mapstructure:"client_email"`
	ClientID                string `json:"client_id" mapstructure:"client_id"`
	AuthURI                 string `json:"auth_uri" mapstructure:"auth_uri"`
	TokenURI                string `json:"token_uri" mapstructure:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url" mapstructure:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url" mapstructure:"client_x509_cert_url"`
	UniverseDomain          string `json:"universe_domain" mapstructure:"universe_domain"`
}

// ClientOption turns the credential into a google api client option. Private keys coming from
// env vars usually carry literal "\n" sequences, which are expanded here.
func (c FirebaseConfig) ClientOption() (option.ClientOption, error) {
	if c.ProjectID == "" || c.PrivateKey == "" || c.ClientEmail == "" {
		return nil, errors.New("firebase credentials need project_id, private_key and client_email")
	}
	if c.Type == "" {
		c.Type = "service_account"
	}
	c.PrivateKey = strings.ReplaceAll(c.PrivateKey, "\\n", "\n")

	configBytes, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return option.WithCredentialsJSON(configBytes), nil
}
