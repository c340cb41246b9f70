package config

import "time"

// APIConfig holds runtime configuration for the dashboard API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	PublicURL          string
	ProjectsJSON       string
	ProjectsFile       string
	DefaultProjectName string
	DashboardHosts     []string
	AuthorAliases      map[string]string

	TrackerLogPath    string
	TrackerRemoteHost string

	AccessLogPath           string
	AccessLogRemoteHost     string
	AccessLogTailLines      int
	AccessLogTailMultiplier int

	SSHConnectTimeout time.Duration
	RemoteReadTimeout time.Duration

	AutoDeployEnabled       bool
	AutoDeployWebhookToken  string
	AutoDeployWebhookSecret string
	AutoDeployTimeout       time.Duration
	AutoDeployOutputLimit   int
	AutoDeployWrapper       string

	ScreenshotCommand string
	ScreenshotDir     string
	ScreenshotTimeout time.Duration

	DashboardJWTSecret string

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		PublicURL:          GetString("API_PUBLIC_URL", ""),
		ProjectsJSON:       GetString("PROJECTS_JSON", ""),
		ProjectsFile:       GetString("PROJECTS_FILE", ""),
		DefaultProjectName: GetString("DEFAULT_PROJECT_NAME", "app"),
		DashboardHosts:     GetList("DASHBOARD_HOSTS"),
		AuthorAliases:      GetMap("DEPLOY_AUTHOR_ALIASES"),

		TrackerLogPath:    GetString("DEPLOY_TRACKER_LOG", "/var/log/deploydeck/deployments.jsonl"),
		TrackerRemoteHost: GetString("DEPLOY_TRACKER_REMOTE_HOST", ""),

		AccessLogPath:           GetString("ACCESS_LOG_PATH", "/var/log/nginx/access.log"),
		AccessLogRemoteHost:     GetString("ACCESS_LOG_REMOTE_HOST", ""),
		AccessLogTailLines:      GetInt("ACCESS_LOG_TAIL_LINES", 2000),
		AccessLogTailMultiplier: GetInt("ACCESS_LOG_TAIL_MULTIPLIER", 20),

		SSHConnectTimeout: time.Duration(GetInt("SSH_CONNECT_TIMEOUT_SECONDS", 10)) * time.Second,
		RemoteReadTimeout: time.Duration(GetInt("REMOTE_READ_TIMEOUT_SECONDS", 20)) * time.Second,

		AutoDeployEnabled:       GetBool("AUTO_DEPLOY_ENABLED", false),
		AutoDeployWebhookToken:  GetString("AUTO_DEPLOY_WEBHOOK_TOKEN", ""),
		AutoDeployWebhookSecret: GetString("AUTO_DEPLOY_WEBHOOK_SECRET", ""),
		AutoDeployTimeout:       time.Duration(GetInt("AUTO_DEPLOY_TIMEOUT_SECONDS", 900)) * time.Second,
		AutoDeployOutputLimit:   GetInt("AUTO_DEPLOY_OUTPUT_LIMIT_BYTES", 10*1024*1024),
		AutoDeployWrapper:       GetString("AUTO_DEPLOY_WRAPPER", "scripts/deploy-wrapper.sh"),

		ScreenshotCommand: GetString("SCREENSHOT_COMMAND", ""),
		ScreenshotDir:     GetString("SCREENSHOT_DIR", "/tmp/deploydeck/screenshots"),
		ScreenshotTimeout: time.Duration(GetInt("SCREENSHOT_TIMEOUT_SECONDS", 45)) * time.Second,

		DashboardJWTSecret: GetString("DASHBOARD_JWT_SECRET", ""),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
