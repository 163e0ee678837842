// Package timeout defines centralized timeout constants and budgets for assessment turns.
// Package timeout 定义评估轮次的集中式超时常量与预算。
package timeout

import "time"

// Remote text-understanding budgets.
// 远程文本理解预算。
const (
	// ExtractionTimeout bounds a single call to the LLM.
	// ExtractionTimeout 是单次 LLM 调用的超时时间。
	ExtractionTimeout = 10 * time.Second

	// BreakerFailureThreshold is the number of consecutive LLM failures that opens the circuit.
	// BreakerFailureThreshold 是熔断器打开前允许的连续失败次数。
	BreakerFailureThreshold = 5

	// BreakerRecoveryTimeout is how long the circuit stays open before a probe is allowed.
	// BreakerRecoveryTimeout 是熔断器打开后允许探测前的等待时间。
	BreakerRecoveryTimeout = 60 * time.Second

	// LLMCallsPerMinute caps outbound LLM calls per process.
	// LLMCallsPerMinute 是每个进程每分钟的 LLM 调用上限。
	LLMCallsPerMinute = 20

	// ResponseCacheSize is the number of cached LLM interpretations.
	ResponseCacheSize = 100

	// ResponseCacheTTL is the lifetime of a cached LLM interpretation.
	ResponseCacheTTL = 30 * time.Minute
)

// Persistence budgets.
// 持久化预算。
const (
	// PersistAttempts is the total number of attempts for a transient store failure.
	// PersistAttempts 是瞬时存储故障的总尝试次数。
	PersistAttempts = 3

	// PersistBaseBackoff is the first retry delay; it doubles on each attempt.
	// PersistBaseBackoff 是首次重试延迟，每次翻倍。
	PersistBaseBackoff = 100 * time.Millisecond

	// PersistMaxBackoff caps a single retry delay.
	PersistMaxBackoff = 2 * time.Second
)

// Session cache budgets.
// 会话缓存预算。
const (
	// SessionCacheCapacity is the number of hot sessions kept in memory.
	SessionCacheCapacity = 1000

	// SessionCacheTTL is the lifetime of a cached session snapshot.
	// SessionCacheTTL 是缓存会话快照的有效期。
	SessionCacheTTL = 30 * time.Minute
)

// TurnTimeout is the overall deadline for one turn: the extraction budget plus
// every persistence attempt with its backoff.
// TurnTimeout 是单轮处理的总截止时间。
const TurnTimeout = ExtractionTimeout + 3*PersistMaxBackoff + 10*time.Second

// MaxTruncateLength is the maximum length for truncating strings in logs.
// MaxTruncateLength 是日志中字符串截断的最大长度。
const MaxTruncateLength = 200
