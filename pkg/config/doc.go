// Package config loads and validates orgrollup configuration from environment variables.
//
// # Configuration Structure
//
// CRM settings:
//
//	ORGROLLUP_CRM_BASE_URL="https://api.pipedrive.com/v1"
//	ORGROLLUP_CRM_API_TOKEN="..."      # falls back to PIPEDRIVE_API_KEY_ORG
//	ORGROLLUP_CRM_ACCESS_TOKEN="..."   # OAuth2 bearer token, replaces the API token
//	ORGROLLUP_CRM_TIMEOUT="30s"
//	ORGROLLUP_CRM_RETRY_ATTEMPTS="3"
//	ORGROLLUP_FIELDS_FILE="/etc/orgrollup/fields.yaml"
//
// Rollup settings:
//
//	ORGROLLUP_PAGE_SIZE="100"
//	ORGROLLUP_START="0"
//	ORGROLLUP_INCLUDE_ORIGIN="false"
//	ORGROLLUP_FETCH_CONCURRENCY="8"
//	ORGROLLUP_RATE_LIMIT_EVERY="8"
//	ORGROLLUP_RATE_LIMIT_PAUSE="2s"
//
// Trigger settings:
//
//	ORGROLLUP_SCHEDULE="1 0 * * *"
//	ORGROLLUP_SCHEDULE_ENABLED="true"
//	ORGROLLUP_HTTP_ENABLED="true"
//	ORGROLLUP_PORT="8080"
//
// Coordination settings:
//
//	ORGROLLUP_REDIS_URL="redis://localhost:6379/0"  # shared limiter and run lock
//	ORGROLLUP_LOCK_TTL="5m"
//
// Observability settings:
//
//	ORGROLLUP_LOG_LEVEL="info"  # debug, info, warn, error
//	ORGROLLUP_METRICS_ENABLED="true"
//	ORGROLLUP_OTEL_ENABLED="true"
//	ORGROLLUP_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
