package config

import (
	"strings"
	"time"
)

// EngineConfig holds runtime configuration for the environment lifecycle engine
// and the ingress, queue and health components wired around it.
type EngineConfig struct {
	Environment   string
	Addr          string
	LogLevel      string
	DatabaseURL   string
	MigrationsDir string
	WorkingPath   string

	PortMin     int
	PortMax     int
	PortExclude []string

	HostDomain      string
	HostScheme      string
	IgnoreSSLErrors bool
	DevHostAlias    string

	GitHubUsername string
	GitHubToken    string
	GitHubAPIURL   string
	GitLabUsername string
	GitLabToken    string

	RedeployCommand string

	DockerHost    string
	KubeConfig    string
	KubeNamespace string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueKey      string
	QueueWorkers  int

	HealthInterval time.Duration

	GitHubWebhookSecret string
	GitLabWebhookToken  string
	ProjectKeys         []string
	WebhookRateLimit    int
	ProjectRateLimits   map[string]int
	APIJWTSecret        string
}

// Development reports whether the engine runs in development mode.
func (c EngineConfig) Development() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "development")
}

// LoadEngineConfig constructs an EngineConfig from environment variables.
func LoadEngineConfig() EngineConfig {
	return EngineConfig{
		Environment:         GetString("APP_ENV", "production"),
		Addr:                GetString("ADDR", ":3000"),
		LogLevel:            GetString("LOG_LEVEL", "info"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://instantiate:instantiate@db:5432/instantiate?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		WorkingPath:         workingPath(),
		PortMin:             GetInt("PORT_MIN", 10000),
		PortMax:             GetInt("PORT_MAX", 11000),
		PortExclude:         GetList("PORT_EXCLUDE"),
		HostDomain:          GetString("HOST_DOMAIN", "localhost"),
		HostScheme:          GetString("HOST_SCHEME", "http"),
		IgnoreSSLErrors:     GetBool("IGNORE_SSL_ERRORS", false),
		DevHostAlias:        GetString("DEV_HOST_ALIAS", "host.docker.internal"),
		GitHubUsername:      GetString("REPOSITORY_GITHUB_USERNAME", ""),
		GitHubToken:         GetString("REPOSITORY_GITHUB_TOKEN", ""),
		GitHubAPIURL:        GetString("GITHUB_API_URL", "https://api.github.com"),
		GitLabUsername:      GetString("REPOSITORY_GITLAB_USERNAME", ""),
		GitLabToken:         GetString("REPOSITORY_GITLAB_TOKEN", ""),
		RedeployCommand:     GetString("REDEPLOY_COMMAND", "instantiate deploy"),
		DockerHost:          GetString("DOCKER_HOST", ""),
		KubeConfig:          GetString("KUBECONFIG", ""),
		KubeNamespace:       GetString("KUBE_NAMESPACE", "default"),
		RedisAddr:           GetString("REDIS_ADDR", ""),
		RedisPassword:       GetString("REDIS_PASSWORD", ""),
		RedisDB:             GetInt("REDIS_DB", 0),
		QueueKey:            GetString("QUEUE_KEY", "instantiate:update"),
		QueueWorkers:        GetInt("QUEUE_WORKERS", 4),
		HealthInterval:      time.Duration(GetInt("HEALTH_INTERVAL_SECONDS", 30)) * time.Second,
		GitHubWebhookSecret: GetString("GITHUB_WEBHOOK_SECRET", ""),
		GitLabWebhookToken:  GetString("GITLAB_WEBHOOK_TOKEN", ""),
		ProjectKeys:         GetList("PROJECT_KEYS"),
		WebhookRateLimit:    GetInt("WEBHOOK_RATE_LIMIT", 60),
		ProjectRateLimits:   GetIntMap("PROJECT_RATE_LIMITS"),
		APIJWTSecret:        GetString("API_JWT_SECRET", ""),
	}
}

func workingPath() string {
	if value := strings.TrimSpace(GetString("WORKING_PATH", "")); value != "" {
		return value
	}
	return "/tmp"
}
