package postgres

import "fmt"

type Config struct {
	Name    string `yaml:"name"`
	Pass    string `yaml:"pass"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	SSLMode string `yaml:"sslmode"`
	// Outbox is the watermill topic appends are also written to, in the
	// same transaction. Empty disables the outbox.
	Outbox string `yaml:"outbox"`
}

func (c Config) DBDsn() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s sslmode=%s",
		c.User,
		c.Pass,
		c.Name,
		c.Host,
		sslmode,
	)
	if c.Port != 0 {
		dsn = fmt.Sprintf("%s port=%d", dsn, c.Port)
	}
	return dsn
}
