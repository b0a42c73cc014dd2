package domain

import "time"

// Execution 是广播给全体成员的最近一次成功运行结果
type Execution struct {
	Output     string      `json:"output"`
	ExecutedBy string      `json:"executedBy"`
	ExecutedAt time.Time   `json:"executedAt"`
	Language   LanguageKey `json:"language"`
}

// ExecutionResult 是执行服务返回给调用者的完整结果，只有 Stdout 会被广播。
type ExecutionResult struct {
	Stdout        string `json:"stdout,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
	CompileOutput string `json:"compileOutput,omitempty"`
	Status        string `json:"status,omitempty"`
}

// Broadcastable 只有非空 stdout 的结果才会写入共享文档
func (r ExecutionResult) Broadcastable() bool {
	return r.Stdout != ""
}
