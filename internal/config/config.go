// Package config 提供统一配置模型与加载（YAML + env override）。
package config

// Config 根配置；敏感项由 env 覆盖（见 Load）。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Content  ContentConfig  `yaml:"content"`
	Identity IdentityConfig `yaml:"identity"`
	Chain    ChainConfig    `yaml:"chain"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Audit    AuditConfig    `yaml:"audit"`
	Notify   NotifyConfig   `yaml:"notify"`
	Rules    RulesConfig    `yaml:"rules"`
	AWS      AWSConfig      `yaml:"aws"`
}

// ServerConfig HTTP 监听与超时。
type ServerConfig struct {
	ListenAddr          string   `yaml:"listen_addr"` // 如 :4000
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	AllowedOrigins      []string `yaml:"allowed_origins"` // CORS；空表示 *
	MaxUploadBytes      int64    `yaml:"max_upload_bytes"`
}

// LogConfig 日志级别与格式（text / json）。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig 记录存储后端：json / memory / leveldb / dynamodb。
type StoreConfig struct {
	Backend          string `yaml:"backend"`
	Dir              string `yaml:"dir"` // json：<dir>/policy-requests.json 等
	LevelDBPath      string `yaml:"leveldb_path"`
	RequestsTable    string `yaml:"requests_table"`
	ClaimsTable      string `yaml:"claims_table"`
	CredentialsTable string `yaml:"credentials_table"`
}

// ContentConfig 内容存储后端：local / s3 / memory。
type ContentConfig struct {
	Backend  string `yaml:"backend"`
	Dir      string `yaml:"dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
}

// IdentityConfig DID 私钥目录。
type IdentityConfig struct {
	KeystoreDir string `yaml:"keystore_dir"`
}

// ChainConfig 链上网关：ledger / evm / fabric / none。
type ChainConfig struct {
	Backend         string       `yaml:"backend"`
	TimeoutSeconds  int          `yaml:"timeout_seconds"`
	RPCURL          string       `yaml:"rpc_url"`
	ContractAddress string       `yaml:"contract_address"`
	ChainID         int64        `yaml:"chain_id"`
	PrivateKey      string       `yaml:"private_key"` // 默认签名私钥；建议用 MEDPOLICY_CHAIN_PRIVATE_KEY
	Fabric          FabricConfig `yaml:"fabric"`
}

// FabricConfig Fabric 网关连接参数。
type FabricConfig struct {
	PeerEndpoint string `yaml:"peer_endpoint"`
	GatewayPeer  string `yaml:"gateway_peer"`
	TLSCertPath  string `yaml:"tls_cert_path"`
	MSPID        string `yaml:"msp_id"`
	CertPath     string `yaml:"cert_path"`
	KeyPath      string `yaml:"key_path"`
	Channel      string `yaml:"channel"`
	Chaincode    string `yaml:"chaincode"`
}

// LedgerConfig 本地账本目录（DID 注册表与存证批次）；空表示仅内存。
type LedgerConfig struct {
	Dir string `yaml:"dir"`
}

// AuditConfig 审计 JSONL 路径与上账批次参数。
type AuditConfig struct {
	Path                  string `yaml:"path"` // 空表示仅内存
	AnchorEnabled         bool   `yaml:"anchor_enabled"`
	AnchorBatchSize       int    `yaml:"anchor_batch_size"`
	AnchorIntervalSeconds int    `yaml:"anchor_interval_seconds"`
}

// NotifyConfig 保险方通知渠道。
type NotifyConfig struct {
	Feishu FeishuConfig `yaml:"feishu"`
}

// FeishuConfig 飞书应用配置；app_secret 从 env 覆盖。
type FeishuConfig struct {
	Enabled        bool          `yaml:"enabled"`
	AppID          string        `yaml:"app_id"`
	AppSecret      string        `yaml:"app_secret"`
	ChatID         string        `yaml:"chat_id"`
	ConsoleBaseURL string        `yaml:"console_base_url"` // 保险方控制台地址，拼入消息
	OpenBaseURL    string        `yaml:"open_base_url"`    // 开放平台地址；空为 https://open.feishu.cn
	ApproverDID    string        `yaml:"approver_did"`     // 卡片按钮审批时记录的保险方 DID；空则不启用长连接
	Routes         []FeishuRoute `yaml:"routes"`
}

// FeishuRoute 按通知类型与金额下限把卡片投递到其他群；首条命中生效，未命中用 chat_id。
type FeishuRoute struct {
	Kind      string `yaml:"kind"` // policy_request | claim | 空（全部）
	MinAmount string `yaml:"min_amount"`
	ChatID    string `yaml:"chat_id"`
}

// RulesConfig 核保规则文件路径；空表示不限制。
type RulesConfig struct {
	Path        string `yaml:"path"`
	PolicyCheck string `yaml:"policy_check"` // approved（默认）| exists | none：理赔引用保单的校验强度
}

// AWSConfig DynamoDB / S3 共用；endpoint 用于 localstack。
type AWSConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}
