// Package settings resolves the Execution Context's runtime budget from
// three layers — hard defaults, global settings, and a workflow's own
// execution_config — per spec.md §4.4's exhaustive merge rules. Adapted
// from the teacher's internal/config/config.go hand-rolled env-var
// loading style (no ecosystem config library fits a three-layer override
// merge better than the plain-Go "OR" chain the teacher already uses
// throughout config.go).
package settings

import (
	"os"
	"strconv"
	"time"

	"github.com/weaveflow/weaveflow/internal/executor"
	"github.com/weaveflow/weaveflow/internal/workflowdef"
)

// GlobalExecution is the process-wide execution settings layer (spec.md
// §4.4's "settings.execution.*"), sourced from environment variables the
// same way internal/config/config.go sources the rest of the process
// config.
type GlobalExecution struct {
	DefaultMaxConcurrentNodes int
	DefaultTimeoutSeconds     int
	DefaultMaxRetries         int
	DefaultStopOnError        bool
	MaxConcurrentRunsPerWorkflow int
	MaxQueueDepthPerWorkflow     int
}

// LoadGlobalExecution reads the global execution settings layer from the
// environment, following internal/config/config.go's getEnv/getEnvAsInt
// convention.
func LoadGlobalExecution() GlobalExecution {
	return GlobalExecution{
		DefaultMaxConcurrentNodes:    getEnvAsInt("EXECUTION_DEFAULT_MAX_CONCURRENT_NODES", 5),
		DefaultTimeoutSeconds:        getEnvAsInt("EXECUTION_DEFAULT_TIMEOUT_SECONDS", 300),
		DefaultMaxRetries:            getEnvAsInt("EXECUTION_DEFAULT_MAX_RETRIES", 3),
		DefaultStopOnError:           getEnvAsBool("EXECUTION_DEFAULT_STOP_ON_ERROR", true),
		MaxConcurrentRunsPerWorkflow: getEnvAsInt("EXECUTION_MAX_CONCURRENT_RUNS_PER_WORKFLOW", 5),
		MaxQueueDepthPerWorkflow:     getEnvAsInt("EXECUTION_MAX_QUEUE_DEPTH_PER_WORKFLOW", 200),
	}
}

// ResolveExecutorConfig implements spec.md §4.4's exhaustive config-merge
// rules: workflow.execution_config OR global settings OR hard default, for
// every budget field the Parallel Executor consumes.
func ResolveExecutorConfig(wfCfg *workflowdef.ExecutionConfig, global GlobalExecution) executor.Config {
	cfg := executor.Config{
		MaxConcurrentNodes: global.DefaultMaxConcurrentNodes,
		AIConcurrentLimit:  global.DefaultMaxConcurrentNodes,
		DefaultTimeout:     time.Duration(global.DefaultTimeoutSeconds) * time.Second,
		StopOnError:        global.DefaultStopOnError,
		MaxRetries:         global.DefaultMaxRetries,
		RetryDelay:         time.Second,
		BackoffMultiplier:  2.0,
		MaxRetryDelay:      30 * time.Second,
	}
	if wfCfg == nil {
		return cfg
	}
	if wfCfg.MaxConcurrentNodes > 0 {
		cfg.MaxConcurrentNodes = wfCfg.MaxConcurrentNodes
	}
	if wfCfg.AIConcurrentLimit > 0 {
		cfg.AIConcurrentLimit = wfCfg.AIConcurrentLimit
	} else {
		cfg.AIConcurrentLimit = cfg.MaxConcurrentNodes
	}
	if wfCfg.DefaultTimeoutSeconds > 0 {
		cfg.DefaultTimeout = time.Duration(wfCfg.DefaultTimeoutSeconds) * time.Second
	}
	if wfCfg.WorkflowTimeoutSeconds > 0 {
		cfg.WorkflowTimeout = time.Duration(wfCfg.WorkflowTimeoutSeconds) * time.Second
	}
	if wfCfg.StopOnError != nil {
		cfg.StopOnError = *wfCfg.StopOnError
	}
	if wfCfg.MaxRetries > 0 {
		cfg.MaxRetries = wfCfg.MaxRetries
	}
	if wfCfg.RetryDelayMillis > 0 {
		cfg.RetryDelay = time.Duration(wfCfg.RetryDelayMillis) * time.Millisecond
	}
	if wfCfg.BackoffMultiplier > 0 {
		cfg.BackoffMultiplier = wfCfg.BackoffMultiplier
	}
	if wfCfg.MaxRetryDelayMillis > 0 {
		cfg.MaxRetryDelay = time.Duration(wfCfg.MaxRetryDelayMillis) * time.Millisecond
	}
	return cfg
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
