package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/packetkeeper/packetkeeper/internal/flagx"
	"github.com/packetkeeper/packetkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies
// on timex.Duration so JSON can specify intervals either as strings like
// "5m" or as integer nanoseconds. After parsing, values are copied into
// the runtime Config (which uses time.Duration).
type JsonConfig struct {
	Mode    string `json:"mode"`
	DataDir string `json:"data_dir"`
	SyncDir string `json:"sync_dir"`

	OwnerID       string `json:"owner_id"`
	User          string `json:"user"`
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceType string `json:"workspace_type"`

	KeyServiceURL   string         `json:"key_service_url"`
	KeyServiceToken string         `json:"key_service_token"`
	KeyTTL          timex.Duration `json:"key_ttl"`

	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	VaultAddr  string `json:"vault_addr"`
	VaultToken string `json:"vault_token"`

	LogFile string `json:"log_file"`
}

// parseJson overlays cfg with values loaded from a JSON file. The file
// path comes from the -c or -config flags via flagx.JsonConfigFlags();
// when neither is given, nothing is loaded. Read or unmarshal errors
// panic (startup configuration is not recoverable).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.Mode = jc.Mode
	cfg.DataDir = jc.DataDir
	cfg.SyncDir = jc.SyncDir
	cfg.OwnerID = jc.OwnerID
	cfg.User = jc.User
	cfg.WorkspaceID = jc.WorkspaceID
	cfg.WorkspaceType = jc.WorkspaceType
	cfg.KeyServiceURL = jc.KeyServiceURL
	cfg.KeyServiceToken = jc.KeyServiceToken
	cfg.KeyTTL = time.Duration(jc.KeyTTL.Duration)
	cfg.S3AccessKey = jc.S3AccessKey
	cfg.S3SecretKey = jc.S3SecretKey
	cfg.S3Bucket = jc.S3Bucket
	cfg.S3Region = jc.S3Region
	cfg.S3BaseEndpoint = jc.S3BaseEndpoint
	cfg.VaultAddr = jc.VaultAddr
	cfg.VaultToken = jc.VaultToken
	cfg.LogFile = jc.LogFile
}
