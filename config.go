package gda

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Driver names accepted by the SQL adapters.
const (
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLite    = "sqlite"
	DriverSQLServer = "sqlserver"
)

// Config carries the connection parameters for every backend, loaded from a
// single externalized file. Each adapter consumes its own section.
type Config struct {
	SQL   SQLConfig   `yaml:"sql"`
	Mongo MongoConfig `yaml:"mongo"`
	LDAP  LDAPConfig  `yaml:"ldap"`
	Redis RedisConfig `yaml:"redis"`
}

// SQLConfig configures the relational adapters. Either DSN or the discrete
// host/port/database parts may be given; DSN wins when both are set.
type SQLConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Connection pool settings. MaxOpenConns caps the pool, MaxIdleConns is
	// the number of connections kept ready, ConnMaxIdleTime retires idle
	// connections. Zero values leave the driver defaults in place.
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `yaml:"conn_max_idle_time"`

	// Debug enables SQL statement logging (bundebug for gdabun, the gorm
	// logger for gdagorm).
	Debug bool `yaml:"debug"`
}

// MongoConfig configures the document adapter.
type MongoConfig struct {
	URI         string   `yaml:"uri"`
	Database    string   `yaml:"database"`
	MaxPoolSize uint64   `yaml:"max_pool_size"`
	MinPoolSize uint64   `yaml:"min_pool_size"`
	MaxIdleTime Duration `yaml:"max_idle_time"`
}

// LDAPConfig configures the directory adapter.
type LDAPConfig struct {
	URL      string `yaml:"url"`
	BaseDN   string `yaml:"base_dn"`
	BindDN   string `yaml:"bind_dn"`
	Password string `yaml:"password"`
}

// RedisConfig configures the key-value adapter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Duration is a time.Duration that reads the human-readable form ("30m",
// "1h30m") from both YAML and properties files. Convert with
// time.Duration(d) at the point of use.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load reads a configuration file. Files named *.yaml or *.yml parse as
// YAML; anything else parses as KEY=VALUE properties with dotted keys, for
// example:
//
//	sql.driver=postgres
//	sql.dsn=postgres://app:secret@db:5432/app
//	sql.max_open_conns=16
//	sql.conn_max_idle_time=5m
//	ldap.url=ldap://directory:389
//	ldap.base_dn=dc=example,dc=com
func Load(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return loadProperties(path)
	}
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func loadProperties(path string) (*Config, error) {
	props, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	for _, key := range SortedKeys(asAny(props)) {
		if err := cfg.set(key, props[key]); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

func asAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// set assigns one flat properties key. Unknown keys are ignored so that a
// shared properties file may carry settings for other components.
func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "sql.driver":
		c.SQL.Driver = value
	case "sql.dsn":
		c.SQL.DSN = value
	case "sql.host":
		c.SQL.Host = value
	case "sql.port":
		c.SQL.Port, err = strconv.Atoi(value)
	case "sql.database":
		c.SQL.Database = value
	case "sql.username":
		c.SQL.Username = value
	case "sql.password":
		c.SQL.Password = value
	case "sql.max_open_conns":
		c.SQL.MaxOpenConns, err = strconv.Atoi(value)
	case "sql.max_idle_conns":
		c.SQL.MaxIdleConns, err = strconv.Atoi(value)
	case "sql.conn_max_lifetime":
		c.SQL.ConnMaxLifetime, err = parseDuration(value)
	case "sql.conn_max_idle_time":
		c.SQL.ConnMaxIdleTime, err = parseDuration(value)
	case "sql.debug":
		c.SQL.Debug, err = strconv.ParseBool(value)
	case "mongo.uri":
		c.Mongo.URI = value
	case "mongo.database":
		c.Mongo.Database = value
	case "mongo.max_pool_size":
		c.Mongo.MaxPoolSize, err = strconv.ParseUint(value, 10, 64)
	case "mongo.min_pool_size":
		c.Mongo.MinPoolSize, err = strconv.ParseUint(value, 10, 64)
	case "mongo.max_idle_time":
		c.Mongo.MaxIdleTime, err = parseDuration(value)
	case "ldap.url":
		c.LDAP.URL = value
	case "ldap.base_dn":
		c.LDAP.BaseDN = value
	case "ldap.bind_dn":
		c.LDAP.BindDN = value
	case "ldap.password":
		c.LDAP.Password = value
	case "redis.addr":
		c.Redis.Addr = value
	case "redis.password":
		c.Redis.Password = value
	case "redis.db":
		c.Redis.DB, err = strconv.Atoi(value)
	}
	if err != nil {
		return fmt.Errorf("property %s: %w", key, err)
	}
	return nil
}

func parseDuration(value string) (Duration, error) {
	parsed, err := time.ParseDuration(value)
	return Duration(parsed), err
}
