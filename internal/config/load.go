package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEnvFile 从 path 读取 .env 风格文件（KEY=VALUE），并 set 到当前进程环境变量。
// 空行与 # 开头行忽略；override 为 false 时不覆盖已存在的环境变量。
// 在 Load 之前调用，则 YAML 的 env 覆盖会使用 .env 中的值。
func LoadEnvFile(path string, override bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
			val = strings.Trim(val, `"`)
		}
		if override || os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
	return sc.Err()
}

// Default 返回开发环境默认配置：JSON 文件存储、本地内容存储、本地账本。
func Default() *Config {
	return &Config{
		Server:   ServerConfig{ListenAddr: ":4000", ReadTimeoutSeconds: 30, WriteTimeoutSeconds: 60, MaxUploadBytes: 20 << 20},
		Log:      LogConfig{Level: "info", Format: "text"},
		Store:    StoreConfig{Backend: "json", Dir: "data"},
		Content:  ContentConfig{Backend: "local", Dir: "data/content"},
		Identity: IdentityConfig{KeystoreDir: "data/keys"},
		Chain:    ChainConfig{Backend: "ledger", TimeoutSeconds: 15},
		Ledger:   LedgerConfig{Dir: "data/ledger"},
		Audit:    AuditConfig{Path: "data/audit.jsonl", AnchorEnabled: true, AnchorBatchSize: 50, AnchorIntervalSeconds: 30},
	}
}

// Load 从 path 加载 YAML 配置（未出现的字段保留 Default 值）；敏感项由 MEDPOLICY_* 环境变量覆盖。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config unmarshal: %w", err)
		}
	}
	if err := applyEnvOverrides(c); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnvOverrides 用 MEDPOLICY_ 前缀环境变量覆盖敏感或常用项。
func applyEnvOverrides(c *Config) error {
	str := map[string]*string{
		"MEDPOLICY_LISTEN":            &c.Server.ListenAddr,
		"MEDPOLICY_LOG_LEVEL":         &c.Log.Level,
		"MEDPOLICY_LOG_FORMAT":        &c.Log.Format,
		"MEDPOLICY_STORE_BACKEND":     &c.Store.Backend,
		"MEDPOLICY_STORE_DIR":         &c.Store.Dir,
		"MEDPOLICY_CONTENT_BACKEND":   &c.Content.Backend,
		"MEDPOLICY_S3_BUCKET":         &c.Content.S3Bucket,
		"MEDPOLICY_CHAIN_BACKEND":     &c.Chain.Backend,
		"MEDPOLICY_CHAIN_RPC_URL":     &c.Chain.RPCURL,
		"MEDPOLICY_CHAIN_CONTRACT":    &c.Chain.ContractAddress,
		"MEDPOLICY_CHAIN_PRIVATE_KEY": &c.Chain.PrivateKey,
		"MEDPOLICY_FEISHU_APP_ID":     &c.Notify.Feishu.AppID,
		"MEDPOLICY_FEISHU_APP_SECRET": &c.Notify.Feishu.AppSecret,
		"MEDPOLICY_FEISHU_CHAT_ID":    &c.Notify.Feishu.ChatID,
		"MEDPOLICY_RULES_PATH":        &c.Rules.Path,
		"MEDPOLICY_POLICY_CHECK":      &c.Rules.PolicyCheck,
		"MEDPOLICY_AWS_REGION":        &c.AWS.Region,
		"AWS_ENDPOINT_URL":            &c.AWS.Endpoint,
	}
	for k, p := range str {
		if v := os.Getenv(k); v != "" {
			*p = v
		}
	}
	if v := os.Getenv("MEDPOLICY_CHAIN_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MEDPOLICY_CHAIN_TIMEOUT_SECONDS: %w", err)
		}
		c.Chain.TimeoutSeconds = n
	}
	if v := os.Getenv("MEDPOLICY_CHAIN_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MEDPOLICY_CHAIN_ID: %w", err)
		}
		c.Chain.ChainID = n
	}
	if v := os.Getenv("MEDPOLICY_FEISHU_ENABLED"); v != "" {
		c.Notify.Feishu.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	return nil
}

// Validate 按所选后端检查必填项，返回所有问题的合并错误。
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Store.Backend {
	case "json":
		if c.Store.Dir == "" {
			add("store.dir is required for backend json")
		}
	case "memory":
	case "leveldb":
		if c.Store.LevelDBPath == "" {
			add("store.leveldb_path is required for backend leveldb")
		}
	case "dynamodb":
		if c.Store.RequestsTable == "" || c.Store.ClaimsTable == "" || c.Store.CredentialsTable == "" {
			add("store.requests_table, claims_table and credentials_table are required for backend dynamodb")
		}
	default:
		add("store.backend %q is not one of json, memory, leveldb, dynamodb", c.Store.Backend)
	}

	switch c.Content.Backend {
	case "local":
		if c.Content.Dir == "" {
			add("content.dir is required for backend local")
		}
	case "memory":
	case "s3":
		if c.Content.S3Bucket == "" {
			add("content.s3_bucket is required for backend s3")
		}
	default:
		add("content.backend %q is not one of local, memory, s3", c.Content.Backend)
	}

	switch c.Chain.Backend {
	case "ledger", "none", "":
	case "evm":
		if c.Chain.RPCURL == "" || c.Chain.ContractAddress == "" {
			add("chain.rpc_url and chain.contract_address are required for backend evm")
		}
	case "fabric":
		f := c.Chain.Fabric
		if f.PeerEndpoint == "" || f.MSPID == "" || f.CertPath == "" || f.KeyPath == "" || f.TLSCertPath == "" {
			add("chain.fabric peer_endpoint, msp_id, cert_path, key_path and tls_cert_path are required for backend fabric")
		}
		if f.Channel == "" || f.Chaincode == "" {
			add("chain.fabric channel and chaincode are required for backend fabric")
		}
	default:
		add("chain.backend %q is not one of ledger, evm, fabric, none", c.Chain.Backend)
	}

	if c.Notify.Feishu.Enabled && (c.Notify.Feishu.AppID == "" || c.Notify.Feishu.AppSecret == "" || c.Notify.Feishu.ChatID == "") {
		add("notify.feishu app_id, app_secret and chat_id are required when enabled")
	}
	for i, r := range c.Notify.Feishu.Routes {
		switch r.Kind {
		case "", "policy_request", "claim":
		default:
			add("notify.feishu.routes[%d].kind %q is not one of policy_request, claim", i, r.Kind)
		}
		if r.ChatID == "" {
			add("notify.feishu.routes[%d].chat_id is required", i)
		}
	}
	if c.Identity.KeystoreDir == "" {
		add("identity.keystore_dir is required")
	}
	switch c.Rules.PolicyCheck {
	case "", "approved", "exists", "none":
	default:
		add("rules.policy_check %q is not one of approved, exists, none", c.Rules.PolicyCheck)
	}
	return errors.Join(errs...)
}
