package strategy

// Config 策略参数；初始化后不可变，除非显式重新初始化。
type Config struct {
	EdgeBps     uint64           `yaml:"edgeBps" json:"edgeBps"`         // 相对 fair price 的半价差（bps）
	QuoteSize   uint64           `yaml:"quoteSize" json:"quoteSize"`     // 每侧挂单数量（报价资产最小单位）
	PostOnly    bool             `yaml:"postOnly" json:"postOnly"`       // 为 true 时不吃单，价格夹到对手价一 tick 外
	Improvement PriceImprovement `yaml:"improvement" json:"improvement"` // Ignore | Join | Improve(n)
}

// maxEdgeBps: a bid at fair*(1-10000/10000) is zero, which no exchange accepts.
const maxEdgeBps = 10_000

// Validate returns a *ConfigurationError describing the first invalid field.
func (c Config) Validate() error {
	if c.QuoteSize == 0 {
		return &ConfigurationError{Field: "quoteSize", Reason: "must be > 0"}
	}
	if c.EdgeBps >= maxEdgeBps {
		return &ConfigurationError{Field: "edgeBps", Reason: "must be < 10000"}
	}
	if err := c.Improvement.Validate(); err != nil {
		return &ConfigurationError{Field: "improvement", Reason: err.Error()}
	}
	return nil
}
