package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	Port       string `env:"PORT" envDefault:"3000"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9090"`
	Domain     string `env:"DOMAIN" envDefault:"http://localhost:3000"`
	JWTSecret  string `env:"JWT_SECRET,required,notEmpty"`
	Storage    string `env:"STORAGE" envDefault:"memory"`

	TurnUDPServer webrtc.ICEServer
	TurnTCPServer webrtc.ICEServer

	CoturnServer CoturnConfig
	Postgres     PostgresConfig
}

type PostgresConfig struct {
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"roommesh"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

type CoturnConfig struct {
	Host     string `env:"COTURN_HOST"`
	Username string `env:"COTURN_USERNAME"`
	Password string `env:"COTURN_PASSWORD"`

	// Secret - нужен для генерации временных кредов для клиентов
	Secret string `env:"COTURN_SECRET"`
}

func (c CoturnConfig) Enabled() bool {
	return c.Host != ""
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return nil, fmt.Errorf("unknown storage %q", c.Storage)
	}

	if c.CoturnServer.Enabled() {
		c.TurnUDPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", c.CoturnServer.Host)},
			Username:   c.CoturnServer.Username,
			Credential: c.CoturnServer.Password,
		}

		c.TurnTCPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=tcp", c.CoturnServer.Host)},
			Username:   c.CoturnServer.Username,
			Credential: c.CoturnServer.Password,
		}
	}

	return &c, nil
}

// ClientConfig - настройки headless клиента комнаты
type ClientConfig struct {
	Debug     bool   `env:"DEBUG" envDefault:"false"`
	ServerURL string `env:"ROOMMESH_SERVER_URL" envDefault:"http://localhost:3000"`
	RoomID    string `env:"ROOMMESH_ROOM_ID"`
	Passcode  string `env:"ROOMMESH_PASSCODE"`
	Token     string `env:"ROOMMESH_TOKEN"`

	// Короткие задержки перед первым selecting_leader и перед переподключением
	ElectionDelay    time.Duration `env:"ROOMMESH_ELECTION_DELAY" envDefault:"100ms"`
	ElectionInterval time.Duration `env:"ROOMMESH_ELECTION_INTERVAL" envDefault:"1s"`
	ReconnectDelay   time.Duration `env:"ROOMMESH_RECONNECT_DELAY" envDefault:"1s"`

	STUNServer string `env:"ROOMMESH_STUN_SERVER" envDefault:"stun:stun.l.google.com:19302"`
}

func NewClient() (*ClientConfig, error) {
	c, err := env.ParseAs[ClientConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &c, nil
}

func (c *ClientConfig) ICEServers() []webrtc.ICEServer {
	if c.STUNServer == "" {
		return nil
	}

	return []webrtc.ICEServer{{URLs: []string{c.STUNServer}}}
}
