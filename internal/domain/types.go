package domain

import "fmt"

// Strategy names one of the interchangeable solving algorithms
type Strategy string

const (
	StrategySingleShot Strategy = "single_shot"
	StrategyPlanSolve  Strategy = "plan_solve"
	StrategyReAct      Strategy = "react"
)

// AllStrategies lists every strategy in default experiment order
var AllStrategies = []Strategy{StrategySingleShot, StrategyPlanSolve, StrategyReAct}

// ParseStrategy validates a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySingleShot, StrategyPlanSolve, StrategyReAct:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy: %q (expected single_shot, plan_solve or react)", s)
}

// Role tags a conversation turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)
