package config

import (
	"fmt"
	"net/url"
)

// SSLConfig holds libpq sslmode and certificate paths.
type SSLConfig struct {
	Mode     string
	RootCert string
	Cert     string
	Key      string
}

// NewDatabaseConfigFromEnv reads DB_* variables with defaults for local runs.
func NewDatabaseConfigFromEnv() *DatabaseConfig {
	return &DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		Name:     getEnvOrDefault("DB_NAME", "alt"),
		User:     getEnvOrDefault("DB_USER", "search_sync"),
		Password: getEnvOrDefault("DB_PASSWORD", ""),
		Timeout:  DBTimeout,
		SSL: SSLConfig{
			Mode:     getEnvOrDefault("DB_SSL_MODE", "prefer"),
			RootCert: getEnvOrDefault("DB_SSL_ROOT_CERT", ""),
			Cert:     getEnvOrDefault("DB_SSL_CERT", ""),
			Key:      getEnvOrDefault("DB_SSL_KEY", ""),
		},
	}
}

// BuildPgxConnectionString renders a keyword/value DSN.
func (c *DatabaseConfig) BuildPgxConnectionString() string {
	conn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSL.Mode,
	)
	if c.SSL.RootCert != "" {
		conn += " sslrootcert=" + c.SSL.RootCert
	}
	if c.SSL.Cert != "" {
		conn += " sslcert=" + c.SSL.Cert
	}
	if c.SSL.Key != "" {
		conn += " sslkey=" + c.SSL.Key
	}
	return conn
}

// BuildPostgresURL renders a postgres:// URL, the form pgxpool.ParseConfig takes.
func (c *DatabaseConfig) BuildPostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.Name,
	}

	params := "sslmode=" + c.SSL.Mode
	if c.SSL.RootCert != "" {
		params += "&sslrootcert=" + c.SSL.RootCert
	}
	if c.SSL.Cert != "" {
		params += "&sslcert=" + c.SSL.Cert
	}
	if c.SSL.Key != "" {
		params += "&sslkey=" + c.SSL.Key
	}
	u.RawQuery = params
	return u.String()
}

func (c *DatabaseConfig) ValidateSSLConfig() error {
	switch c.SSL.Mode {
	case "disable":
		return fmt.Errorf("SSL disable mode is not allowed")
	case "allow", "prefer", "require":
		return nil
	case "verify-ca", "verify-full":
		if c.SSL.RootCert == "" {
			return fmt.Errorf("SSL root certificate required for mode %s", c.SSL.Mode)
		}
		return nil
	default:
		return fmt.Errorf("invalid SSL mode: %s", c.SSL.Mode)
	}
}
