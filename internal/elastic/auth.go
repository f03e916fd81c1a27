package elastic

import (
	"encoding/base64"
	"strings"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/elastic/go-elasticsearch/v8"
)

// AuthMode names the credential selected for a connection.
type AuthMode string

const (
	AuthAPIKeyPair    AuthMode = "api_key_id+api_key"
	AuthAPIKeyEncoded AuthMode = "api_key_encoded"
	AuthAPIKeySecret  AuthMode = "api_key_secret"
	AuthBasic         AuthMode = "basic"
	AuthNone          AuthMode = "none"
)

// encodedKeyMinLen is the length above which a colon-free key is assumed to be
// an already base64-encoded "id:secret" pair.
const encodedKeyMinLen = 20

// applyAuth fills the credential fields of esCfg from cfg. The first match wins:
// key pair, encoded key, bare key, basic auth, nothing.
func applyAuth(cfg config.ElasticsearchConfig, esCfg *elasticsearch.Config) AuthMode {
	switch {
	case cfg.APIKey != "" && cfg.APIKeyID != "":
		esCfg.APIKey = base64.StdEncoding.EncodeToString([]byte(cfg.APIKeyID + ":" + cfg.APIKey))
		return AuthAPIKeyPair
	case cfg.APIKey != "" && !strings.Contains(cfg.APIKey, ":") && len(cfg.APIKey) > encodedKeyMinLen:
		esCfg.APIKey = cfg.APIKey
		return AuthAPIKeyEncoded
	case cfg.APIKey != "":
		esCfg.APIKey = cfg.APIKey
		return AuthAPIKeySecret
	case cfg.Username != "" && cfg.Password != "":
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
		return AuthBasic
	default:
		return AuthNone
	}
}
